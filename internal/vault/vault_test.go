package vault

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"podlog/internal/podlog"
)

// exerciseVault runs the behaviour every Vault implementation shares.
func exerciseVault(t *testing.T, v podlog.Vault) {
	t.Helper()
	ctx := context.Background()

	t.Run("no snapshot yet", func(t *testing.T) {
		version, err := v.GetSnapshotVersion(ctx, "host-a")
		if err != nil {
			t.Fatalf("GetSnapshotVersion() error = %v", err)
		}
		if version != 0 {
			t.Errorf("GetSnapshotVersion() = %d, want 0", version)
		}

		var buf bytes.Buffer
		if err := v.GetSnapshot(ctx, "host-a", &buf); err == nil {
			t.Error("GetSnapshot() expected error for missing snapshot")
		}
	})

	t.Run("put and get", func(t *testing.T) {
		data := "encrypted snapshot bytes"
		if err := v.PutSnapshot(ctx, "host-a", strings.NewReader(data), int64(len(data)), 1); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.GetSnapshot(ctx, "host-a", &buf); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if buf.String() != data {
			t.Errorf("GetSnapshot() = %q, want %q", buf.String(), data)
		}

		version, err := v.GetSnapshotVersion(ctx, "host-a")
		if err != nil {
			t.Fatalf("GetSnapshotVersion() error = %v", err)
		}
		if version != 1 {
			t.Errorf("GetSnapshotVersion() = %d, want 1", version)
		}
	})

	t.Run("newer snapshot replaces older", func(t *testing.T) {
		data := "second snapshot"
		if err := v.PutSnapshot(ctx, "host-a", strings.NewReader(data), int64(len(data)), 2); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
		var buf bytes.Buffer
		if err := v.GetSnapshot(ctx, "host-a", &buf); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if buf.String() != data {
			t.Errorf("GetSnapshot() = %q, want %q", buf.String(), data)
		}
		if version, _ := v.GetSnapshotVersion(ctx, "host-a"); version != 2 {
			t.Errorf("GetSnapshotVersion() = %d, want 2", version)
		}
	})

	t.Run("instances are separate", func(t *testing.T) {
		if version, _ := v.GetSnapshotVersion(ctx, "host-b"); version != 0 {
			t.Errorf("GetSnapshotVersion(host-b) = %d, want 0", version)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		if err := v.PutSnapshot(ctx, "host-c", strings.NewReader("short"), 100, 1); err == nil {
			t.Error("PutSnapshot() expected size mismatch error")
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := v.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func TestMemoryVault(t *testing.T) {
	exerciseVault(t, NewMemoryVault("test-vault"))
}

func TestFileSystemVault(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	exerciseVault(t, v)
}

func TestFileSystemVault_KeepsOnePreviousVersion(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	ctx := context.Background()

	for version := int64(1); version <= 4; version++ {
		data := fmt.Sprintf("snapshot %d", version)
		if err := v.PutSnapshot(ctx, "host-a", strings.NewReader(data), int64(len(data)), version); err != nil {
			t.Fatalf("PutSnapshot(%d) error = %v", version, err)
		}
	}

	versions, err := listVersions(filepath.Join(root, "snapshots", "host-a"))
	if err != nil {
		t.Fatalf("listVersions() error = %v", err)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	if len(versions) != 2 || versions[0] != 3 || versions[1] != 4 {
		t.Errorf("stored versions = %v, want [3 4]", versions)
	}

	var buf bytes.Buffer
	if err := v.GetSnapshot(ctx, "host-a", &buf); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if buf.String() != "snapshot 4" {
		t.Errorf("GetSnapshot() = %q, want %q", buf.String(), "snapshot 4")
	}
}

func TestS3Vault(t *testing.T) {
	exerciseVault(t, NewS3VaultFromClient("test", newFakeS3(), "bucket", "/podlog/"))
}

func TestThrottledVault(t *testing.T) {
	inner := NewMemoryVault("inner")
	v := NewThrottledVault(inner, 1)

	// Larger than one burst so the reader has to wait at least once.
	data := strings.Repeat("x", mb+10)
	if err := v.PutSnapshot(context.Background(), "host-a", strings.NewReader(data), int64(len(data)), 1); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}
	var buf bytes.Buffer
	if err := inner.GetSnapshot(context.Background(), "host-a", &buf); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if buf.Len() != len(data) {
		t.Errorf("stored %d bytes, want %d", buf.Len(), len(data))
	}
}

func TestThrottledVault_ContextCanceled(t *testing.T) {
	v := NewThrottledVault(NewMemoryVault("inner"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := "abc"
	if err := v.PutSnapshot(ctx, "host-a", strings.NewReader(data), int64(len(data)), 1); err == nil {
		t.Error("PutSnapshot() expected error with canceled context")
	}
}
