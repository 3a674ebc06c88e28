package podlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Snapshotter copies the record store into a vault and back.
type Snapshotter struct {
	database   Database
	vault      Vault
	encryptor  Encryptor
	logger     Logger
	clock      Clock
	instanceID string
	tmpDir     string
}

// NewSnapshotter creates a Snapshotter. Snapshots are stored under
// instanceID; tmpDir holds intermediate files ("" uses the system default).
func NewSnapshotter(database Database, vault Vault, encryptor Encryptor, logger Logger, clock Clock, instanceID, tmpDir string) *Snapshotter {
	return &Snapshotter{
		database:   database,
		vault:      vault,
		encryptor:  encryptor,
		logger:     logger,
		clock:      clock,
		instanceID: instanceID,
		tmpDir:     tmpDir,
	}
}

// Push records a new snapshot version, copies the store, encrypts the copy
// and uploads it. Returns the version stored.
func (s *Snapshotter) Push(ctx context.Context) (int64, error) {
	version, err := s.database.RecordSnapshot(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("recording snapshot: %w", err)
	}

	dir, err := os.MkdirTemp(s.tmpDir, "podlog-snapshot-")
	if err != nil {
		return 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	plainPath := filepath.Join(dir, "podlog.db")
	if err := s.database.BackupTo(ctx, plainPath); err != nil {
		return 0, fmt.Errorf("copying database: %w", err)
	}

	encPath := filepath.Join(dir, "podlog.db.age")
	if err := s.encryptFile(plainPath, encPath); err != nil {
		return 0, err
	}

	f, err := os.Open(encPath)
	if err != nil {
		return 0, fmt.Errorf("opening encrypted snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat encrypted snapshot: %w", err)
	}
	if err := s.vault.PutSnapshot(ctx, s.instanceID, f, info.Size(), version); err != nil {
		return 0, fmt.Errorf("uploading snapshot: %w", err)
	}

	s.logger.Info("snapshot pushed", "instance", s.instanceID, "version", version, "size", info.Size())
	return version, nil
}

func (s *Snapshotter) encryptFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening database copy: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	if err := s.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return out.Close()
}

// Pull downloads the latest snapshot, decrypts it with dc and writes the
// database file to dest.
func (s *Snapshotter) Pull(ctx context.Context, dc DecryptionContext, dest string) (int64, error) {
	version, err := s.vault.GetSnapshotVersion(ctx, s.instanceID)
	if err != nil {
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("vault holds no snapshot for %s", s.instanceID)
	}

	enc, err := os.CreateTemp(s.tmpDir, "podlog-snapshot-*.age")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(enc.Name())
	defer enc.Close()

	if err := s.vault.GetSnapshot(ctx, s.instanceID, enc); err != nil {
		return 0, fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := enc.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding snapshot: %w", err)
	}

	tmpDest := dest + ".tmp"
	out, err := os.Create(tmpDest)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", tmpDest, err)
	}
	if err := dc.Decrypt(enc, out); err != nil {
		out.Close()
		os.Remove(tmpDest)
		return 0, fmt.Errorf("decrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpDest)
		return 0, err
	}
	if err := os.Rename(tmpDest, dest); err != nil {
		os.Remove(tmpDest)
		return 0, fmt.Errorf("moving snapshot into place: %w", err)
	}

	s.logger.Info("snapshot pulled", "instance", s.instanceID, "version", version, "dest", dest)
	return version, nil
}

// CheckVersion fails when the vault holds a snapshot newer than any this
// store has produced, which means the local store is behind.
func (s *Snapshotter) CheckVersion(ctx context.Context) error {
	remote, err := s.vault.GetSnapshotVersion(ctx, s.instanceID)
	if err != nil {
		return fmt.Errorf("reading vault snapshot version: %w", err)
	}
	local, err := s.database.MaxSnapshotVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading local snapshot version: %w", err)
	}
	if remote > local {
		return fmt.Errorf("vault snapshot version %d is newer than local version %d; pull the snapshot first", remote, local)
	}
	return nil
}
