package podlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultOpTimeout = 5 * time.Second
	defaultCacheTTL  = 5 * time.Minute
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Options tunes a Service. Zero values select defaults.
type Options struct {
	// OpTimeout bounds every store-bound operation.
	OpTimeout time.Duration
	// CacheTTL is the lifetime of read-through cache entries.
	CacheTTL time.Duration
	// BaseDomain is the apex under which pods are served as subdomains.
	BaseDomain string
	Metrics    Metrics
}

// Service is the orchestration layer over the record log, stream hierarchy,
// permission engine, rate limiter and cache.
type Service struct {
	database    Database
	cache       Cache
	limiter     RateLimiter
	permissions *Permissions
	logger      Logger
	clock       Clock
	idgen       IDGenerator
	metrics     Metrics
	opts        Options
	flight      singleflight.Group

	// genMu guards gen, which every invalidation bumps. A load only fills
	// the cache if no invalidation ran while it was in flight.
	genMu sync.Mutex
	gen   uint64
}

// NewService creates a Service with the provided dependencies.
func NewService(database Database, cache Cache, limiter RateLimiter, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	if limiter == nil {
		limiter = NoRateLimit{}
	}
	return &Service{
		database:    database,
		cache:       cache,
		limiter:     limiter,
		permissions: NewPermissions(database, logger),
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		metrics:     opts.Metrics,
		opts:        opts,
	}
}

// Permissions exposes the permission engine used by the service.
func (s *Service) Permissions() *Permissions { return s.permissions }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

// rateLimit counts action against the caller and returns a
// *RateLimitedError when the window is exhausted.
func (s *Service) rateLimit(ctx context.Context, caller Caller, action Action) error {
	d := s.limiter.CheckAndIncrement(ctx, caller.Identifier(), action)
	if d.Allowed {
		return nil
	}
	s.metrics.RateLimited(action)
	s.logger.Info("rate limited", "identifier", caller.Identifier(), "action", string(action))
	return &RateLimitedError{Action: action, Decision: d}
}

func (s *Service) authorizeRead(ctx context.Context, op string, caller Caller, stream *Stream) error {
	ok, err := s.permissions.CanRead(ctx, stream, caller.UserID)
	if err != nil {
		return internalError(op, err)
	}
	if !ok {
		s.metrics.PermissionDenied(ActionRead)
		return newError(KindForbidden, op, "read access to %s denied", stream.Path)
	}
	return nil
}

func (s *Service) authorizeWrite(ctx context.Context, op string, caller Caller, stream *Stream) error {
	ok, err := s.permissions.CanWrite(ctx, stream, caller.UserID)
	if err != nil {
		return internalError(op, err)
	}
	if !ok {
		s.metrics.PermissionDenied(ActionWrite)
		return newError(KindForbidden, op, "write access to %s denied", stream.Path)
	}
	return nil
}

// requireOwner fails with FORBIDDEN unless caller is the pod's authoritative owner.
func (s *Service) requireOwner(ctx context.Context, op string, caller Caller, podName string) error {
	if caller.Anonymous() {
		return newError(KindForbidden, op, "authentication required")
	}
	owner, err := s.permissions.PodOwner(ctx, podName)
	if err != nil {
		return internalError(op, err)
	}
	if owner != caller.UserID {
		s.metrics.PermissionDenied(ActionWrite)
		return newError(KindForbidden, op, "only the owner of pod %s may do this", podName)
	}
	return nil
}

// readThrough serves key from the cache, loading and storing it on a miss.
// Concurrent misses for one key share a single load, which runs detached from
// any one caller's cancellation. A nil result is not cached. Cache failures
// are logged and otherwise ignored.
func readThrough[T any](ctx context.Context, s *Service, family, key string, load func(context.Context) (*T, error)) (*T, error) {
	if data, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			s.metrics.CacheHit(family)
			return &v, nil
		}
		s.logger.Warn("dropping undecodable cache entry", "key", key)
		s.cacheDelete(ctx, key)
	}
	s.metrics.CacheMiss(family)

	seen := s.generation()
	ch := s.flight.DoChan(key, func() (any, error) {
		started := s.generation()
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OpTimeout)
		defer cancel()

		loaded, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			s.storeIfCurrent(loadCtx, key, loaded, started)
		}
		return flightResult{value: loaded, gen: started}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		fr := res.Val.(flightResult)
		if fr.gen < seen {
			// The shared load began before an invalidation this caller saw.
			return load(ctx)
		}
		return fr.value.(*T), nil
	}
}

type flightResult struct {
	value any
	gen   uint64
}

func (s *Service) generation() uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gen
}

func (s *Service) bumpGeneration() {
	s.genMu.Lock()
	s.gen++
	s.genMu.Unlock()
}

// storeIfCurrent caches v unless an invalidation ran after gen was read.
// The check and the write happen under genMu, so a racing invalidation
// either sees the entry and deletes it or makes this store a no-op.
func (s *Service) storeIfCurrent(ctx context.Context, key string, v any, gen uint64) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gen != gen {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (s *Service) cacheDelete(ctx context.Context, keys ...string) {
	s.bumpGeneration()
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("cache delete failed", "key", key, "error", err)
		}
	}
}

func (s *Service) cacheDeletePattern(ctx context.Context, patterns ...string) {
	s.bumpGeneration()
	for _, pattern := range patterns {
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Warn("cache pattern delete failed", "pattern", pattern, "error", err)
		}
	}
}

// invalidateLists drops every cached record list of the stream at path and
// of all its ancestors, since recursive listings span subtrees.
func (s *Service) invalidateLists(ctx context.Context, podName string, streamID, path string) {
	s.cacheDeletePattern(ctx, recordListPattern(streamID))
	for _, ancestor := range ancestorPaths(path) {
		stream, err := s.database.GetStreamByPath(ctx, podName, ancestor)
		if err != nil {
			s.logger.Warn("resolving ancestor for invalidation", "pod", podName, "path", ancestor, "error", err)
			continue
		}
		if stream != nil {
			s.cacheDeletePattern(ctx, recordListPattern(stream.ID))
		}
	}
}

// notFoundIfNil turns a missing lookup into a NOT_FOUND error.
func notFoundIfNil[T any](v *T, err error, op, format string, args ...any) (*T, error) {
	if err != nil {
		return nil, internalError(op, err)
	}
	if v == nil {
		return nil, newError(KindNotFound, op, format, args...)
	}
	return v, nil
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
