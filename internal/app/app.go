package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"podlog/internal/cache"
	"podlog/internal/config"
	"podlog/internal/database"
	"podlog/internal/encryption"
	"podlog/internal/httpapi"
	"podlog/internal/metrics"
	"podlog/internal/podlog"
	"podlog/internal/ratelimit"
	"podlog/internal/vault"
)

// App is the application layer between the CLI and the record service.
// It constructs all dependencies from config, exposes the operations the
// CLI needs, and releases everything on Close.
type App struct {
	cfg         *config.Config
	db          *database.SQLiteDatabase
	cache       podlog.Cache
	limiter     *ratelimit.Limiter
	metrics     *metrics.Collectors
	encryptor   podlog.Encryptor
	snapshotter *podlog.Snapshotter // nil when no vault is configured
	service     *podlog.Service
	logger      podlog.Logger
	clock       podlog.Clock
	logFile     *os.File
}

// Options adjusts startup behavior.
type Options struct {
	// SkipVersionCheck starts even when the vault holds a newer snapshot
	// than the local store. Only snapshot pull sets it.
	SkipVersionCheck bool
}

// New creates a fully wired App from the given config.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	slogger, logFile, err := newLogger(cfg.LogDir, cfg.InstanceID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  &slogAdapter{l: slogger},
		clock:   podlog.RealClock{},
		logFile: logFile,
	}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.cfg

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date (run 'podlog db migrate'): %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	if len(cfg.Vaults) > 0 {
		v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.snapshotter = podlog.NewSnapshotter(db, v, enc, a.logger, a.clock, cfg.InstanceID, "")
		if !opts.SkipVersionCheck {
			if err := a.snapshotter.CheckVersion(ctx); err != nil {
				return err
			}
		}
	}

	c, err := cache.NewCacheFromConfig(cfg.Cache, a.clock)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	a.cache = c

	store, err := ratelimit.NewWindowStore(cfg.RateLimit.Store, db)
	if err != nil {
		return fmt.Errorf("creating rate limit store: %w", err)
	}
	a.limiter = ratelimit.New(store, a.clock, a.logger, ratelimit.ConfigFromSettings(cfg.RateLimit))
	a.metrics = metrics.New()

	a.service = podlog.NewService(db, c, a.limiter, a.logger, a.clock, podlog.UUIDGenerator{}, podlog.Options{
		OpTimeout:  cfg.Server.OperationTimeout.Duration,
		CacheTTL:   cfg.Cache.TTL.Duration,
		BaseDomain: cfg.Server.BaseDomain,
		Metrics:    a.metrics,
	})
	return nil
}

// Service returns the record service.
func (a *App) Service() *podlog.Service { return a.service }

// Handler builds the HTTP handler for the configured identity table.
func (a *App) Handler() (http.Handler, error) {
	tokens, err := a.loadTokens()
	if err != nil {
		return nil, err
	}
	return httpapi.NewHandler(a.service, tokens, a.logger, a.clock, httpapi.Options{
		BaseDomain: a.cfg.Server.BaseDomain,
		Metrics:    a.metrics.Handler(),
	}), nil
}

func (a *App) loadTokens() (httpapi.StaticTokens, error) {
	path := a.cfg.Server.TokensFile
	if path == "" {
		a.logger.Warn("no tokens file configured, all requests are anonymous")
		return httpapi.StaticTokens{}, nil
	}
	tokens, err := httpapi.LoadTokens(path)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("tokens file not found, all requests are anonymous", "path", path)
		return httpapi.StaticTokens{}, nil
	}
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Serve runs the HTTP server and the rate limit cleanup loop until ctx is
// cancelled or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	srv := httpapi.NewServer(a.cfg.Server.Listen, handler, a.logger, a.clock)

	a.limiter.Start()
	defer a.limiter.Stop()

	a.logger.Info("serving", "listen", a.cfg.Server.Listen, "base_domain", a.cfg.Server.BaseDomain)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

// CreatePod creates a pod owned by owner.
func (a *App) CreatePod(ctx context.Context, owner, name string) (*podlog.Pod, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner required")
	}
	return a.service.CreatePod(ctx, podlog.Caller{UserID: owner}, name)
}

// Verify recomputes the hash chain of one stream without permission checks.
func (a *App) Verify(ctx context.Context, pod, path string) (*podlog.ChainReport, error) {
	stream, err := a.service.ResolveStream(ctx, pod, path)
	if err != nil {
		return nil, err
	}
	return a.service.VerifyChain(ctx, stream.ID)
}

// SnapshotPush uploads an encrypted copy of the store and returns its version.
func (a *App) SnapshotPush(ctx context.Context) (int64, error) {
	if a.snapshotter == nil {
		return 0, fmt.Errorf("no vaults configured")
	}
	version, err := a.snapshotter.Push(ctx)
	if err != nil {
		return 0, err
	}
	a.logger.Info("snapshot pushed", "version", version)
	return version, nil
}

// SnapshotPull downloads the latest snapshot and decrypts it to dest.
func (a *App) SnapshotPull(ctx context.Context, passphrase, dest string) (int64, error) {
	if a.snapshotter == nil {
		return 0, fmt.Errorf("no vaults configured")
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}
	version, err := a.snapshotter.Pull(ctx, dc, dest)
	if err != nil {
		return 0, err
	}
	a.logger.Info("snapshot pulled", "version", version, "dest", dest)
	return version, nil
}

// CleanupRateLimits deletes expired rate limit windows.
func (a *App) CleanupRateLimits(ctx context.Context) (int64, error) {
	return a.limiter.Cleanup(ctx, a.clock.Now())
}

// Close releases the cache, database and log file.
func (a *App) Close() error {
	var firstErr error

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			firstErr = fmt.Errorf("closing cache: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// Migrate applies pending schema migrations to the configured database.
func Migrate(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// InitKeys generates the snapshot key pair, protecting the private key with
// passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	return enc.Setup(passphrase)
}
