package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"podlog/internal/podlog"
)

const snapshotExt = ".db.age"

// FileSystemVault stores snapshots in a directory tree, one file per version:
//
//	<root>/
//	  snapshots/
//	    <instanceID>/
//	      00000000000000000007.db.age
//	      00000000000000000008.db.age   (latest)
//
// The newest file is the current snapshot; its name is its version. One
// older version is kept as a fallback.
type FileSystemVault struct {
	name         string
	root         string
	snapshotsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotsDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	return &FileSystemVault{
		name:         name,
		root:         root,
		snapshotsDir: snapshotsDir,
	}, nil
}

func (v *FileSystemVault) instanceDir(instanceID string) string {
	return filepath.Join(v.snapshotsDir, instanceID)
}

func snapshotFile(version int64) string {
	return fmt.Sprintf("%020d%s", version, snapshotExt)
}

// PutSnapshot writes the snapshot under its version. The rename that
// publishes it is the only step a reader can observe.
func (v *FileSystemVault) PutSnapshot(_ context.Context, instanceID string, r io.Reader, size int64, version int64) error {
	dir := v.instanceDir(instanceID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating instance directory: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, snapshotFile(version)), r, size); err != nil {
		return err
	}
	return v.prune(dir, version)
}

// prune removes versions older than the one preceding latest.
func (v *FileSystemVault) prune(dir string, latest int64) error {
	versions, err := listVersions(dir)
	if err != nil {
		return err
	}
	var keep int64 = -1
	for _, ver := range versions {
		if ver < latest && ver > keep {
			keep = ver
		}
	}
	for _, ver := range versions {
		if ver < keep {
			if err := os.Remove(filepath.Join(dir, snapshotFile(ver))); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("pruning snapshot %d: %w", ver, err)
			}
		}
	}
	return nil
}

// GetSnapshot writes the latest snapshot for instanceID to w.
func (v *FileSystemVault) GetSnapshot(ctx context.Context, instanceID string, w io.Writer) error {
	version, err := v.GetSnapshotVersion(ctx, instanceID)
	if err != nil {
		return err
	}
	if version == 0 {
		return fmt.Errorf("snapshot not found for instance: %s", instanceID)
	}

	f, err := os.Open(filepath.Join(v.instanceDir(instanceID), snapshotFile(version)))
	if err != nil {
		return fmt.Errorf("opening snapshot %d: %w", version, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading snapshot %d: %w", version, err)
	}
	return nil
}

// GetSnapshotVersion returns the highest stored version, 0 if none.
func (v *FileSystemVault) GetSnapshotVersion(_ context.Context, instanceID string) (int64, error) {
	versions, err := listVersions(v.instanceDir(instanceID))
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, ver := range versions {
		latest = max(latest, ver)
	}
	return latest, nil
}

func listVersions(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var versions []int64
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), snapshotExt)
		if !ok || e.IsDir() {
			continue
		}
		ver, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, ver)
	}
	return versions, nil
}

// ValidateSetup checks that the snapshots directory is writable.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	f, err := os.CreateTemp(v.snapshotsDir, ".writable-*")
	if err != nil {
		return fmt.Errorf("vault %s not writable: %w", v.name, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeFileAtomic copies exactly size bytes from r into a temp file next to
// destPath and renames it into place.
func writeFileAtomic(destPath string, r io.Reader, size int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ podlog.Vault = (*FileSystemVault)(nil)
