package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"podlog/internal/podlog"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemoryVault is an in-memory implementation of the Vault interface.
// It keeps the latest snapshot per instance, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name      string
	snapshots map[string]memorySnapshot // instanceID -> latest snapshot
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string]memorySnapshot),
	}
}

// PutSnapshot replaces the stored snapshot for instanceID.
func (m *MemoryVault) PutSnapshot(_ context.Context, instanceID string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[instanceID] = memorySnapshot{data: data, version: version}
	return nil
}

// GetSnapshot writes the stored snapshot for instanceID to w.
func (m *MemoryVault) GetSnapshot(_ context.Context, instanceID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[instanceID]
	if !ok {
		return fmt.Errorf("snapshot not found for instance: %s", instanceID)
	}

	if _, err := io.Copy(w, bytes.NewReader(snap.data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	return nil
}

// GetSnapshotVersion returns 0 if no snapshot has been stored for instanceID.
func (m *MemoryVault) GetSnapshotVersion(_ context.Context, instanceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshots[instanceID].version, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}

// Compile-time check that MemoryVault implements podlog.Vault interface
var _ podlog.Vault = (*MemoryVault)(nil)
