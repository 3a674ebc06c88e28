package podlog

import (
	"context"
	"io"
)

// Vault stores encrypted snapshots of the record store off-host.
// Content is streamed so snapshots never have to fit in memory.
type Vault interface {
	// PutSnapshot stores a snapshot under instanceID with the given version.
	// size is the number of bytes that will be read from r.
	PutSnapshot(ctx context.Context, instanceID string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the latest snapshot for instanceID to w.
	GetSnapshot(ctx context.Context, instanceID string, w io.Writer) error

	// GetSnapshotVersion returns the latest stored version, 0 if none.
	GetSnapshotVersion(ctx context.Context, instanceID string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
