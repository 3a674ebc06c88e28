package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podlog/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig("test-instance", dir)
	cfg.LogLevel = "error"
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	cfg.Vaults = []config.VaultConfig{{Type: "memory", Name: "mem"}}
	cfg.Server.BaseDomain = "podlog.test"
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.RateLimit.Store = "memory"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(t.Context(), cfg, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	tokens := "[tokens]\n\"tok-alice\" = \"alice\"\n"
	if err := os.WriteFile(cfg.Server.TokensFile, []byte(tokens), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	a := newTestApp(t, cfg)
	ctx := t.Context()

	if _, err := a.CreatePod(ctx, "alice", "blog"); err != nil {
		t.Fatalf("CreatePod() error = %v", err)
	}

	h, err := a.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader("hello"))
	req.Host = "blog.podlog.test"
	req.Header.Set("Authorization", "Bearer tok-alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /posts status = %d, body = %s", w.Code, w.Body.String())
	}

	report, err := a.Verify(ctx, "blog", "posts")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Valid || report.Checked != 1 {
		t.Errorf("Verify() = %+v, want valid with 1 record checked", report)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Host = "podlog.test"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `podlog_records_appended_total{pod="blog"} 1`) {
		t.Errorf("metrics missing append counter:\n%s", w.Body.String())
	}

	version, err := a.SnapshotPush(ctx)
	if err != nil {
		t.Fatalf("SnapshotPush() error = %v", err)
	}
	if version != 1 {
		t.Errorf("SnapshotPush() version = %d, want 1", version)
	}

	dest := filepath.Join(t.TempDir(), "restored.db")
	pulled, err := a.SnapshotPull(ctx, "any", dest)
	if err != nil {
		t.Fatalf("SnapshotPull() error = %v", err)
	}
	if pulled != version {
		t.Errorf("SnapshotPull() version = %d, want %d", pulled, version)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("restored database missing: %v", err)
	}
}

func TestApp_CreatePodRequiresOwner(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if _, err := a.CreatePod(t.Context(), "", "blog"); err == nil {
		t.Error("CreatePod() with no owner succeeded")
	}
}

func TestApp_MissingTokensFileIsAnonymous(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TokensFile = filepath.Join(t.TempDir(), "missing.toml")
	a := newTestApp(t, cfg)

	h, err := a.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/pods", nil)
	req.Host = "podlog.test"
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestNew_FileDatabaseNeedsMigration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(t.TempDir(), "db")}

	if _, err := New(t.Context(), cfg, Options{}); err == nil {
		t.Fatal("New() on unmigrated database succeeded")
	}

	if err := Migrate(cfg); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	a := newTestApp(t, cfg)
	if _, err := a.CreatePod(t.Context(), "alice", "blog"); err != nil {
		t.Errorf("CreatePod() error = %v", err)
	}
}

func TestNew_RefusesStaleDatabase(t *testing.T) {
	vaultRoot := t.TempDir()
	fileConfig := func(dataDir string) *config.Config {
		cfg := testConfig(t)
		cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: dataDir}
		cfg.Vaults = []config.VaultConfig{{Type: "filesystem", Name: "fs", FSVaultRoot: vaultRoot}}
		if err := Migrate(cfg); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		return cfg
	}

	first := fileConfig(filepath.Join(t.TempDir(), "first"))
	a, err := New(t.Context(), first, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := a.SnapshotPush(t.Context()); err != nil {
		t.Fatalf("SnapshotPush() error = %v", err)
	}
	a.Close()

	stale := fileConfig(filepath.Join(t.TempDir(), "stale"))
	if _, err := New(t.Context(), stale, Options{}); err == nil {
		t.Fatal("New() with a newer vault snapshot succeeded")
	}

	b, err := New(t.Context(), stale, Options{SkipVersionCheck: true})
	if err != nil {
		t.Fatalf("New(SkipVersionCheck) error = %v", err)
	}
	b.Close()
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"unknown log level", func(c *config.Config) { c.LogLevel = "loud" }},
		{"unknown database type", func(c *config.Config) { c.Database.Type = "postgres" }},
		{"unknown vault type", func(c *config.Config) { c.Vaults[0].Type = "tape" }},
		{"unknown cache type", func(c *config.Config) { c.Cache.Type = "redis" }},
		{"unknown rate limit store", func(c *config.Config) { c.RateLimit.Store = "etcd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)
			if a, err := New(t.Context(), cfg, Options{}); err == nil {
				a.Close()
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := a.Serve(ctx); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestApp_CleanupRateLimits(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	n, err := a.CleanupRateLimits(t.Context())
	if err != nil {
		t.Fatalf("CleanupRateLimits() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CleanupRateLimits() = %d, want 0", n)
	}
}
