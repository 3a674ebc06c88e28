package testutil

import (
	"podlog/internal/podlog"
	"podlog/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() podlog.Vault {
	return vault.NewMemoryVault("test-vault")
}
