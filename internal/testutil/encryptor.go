package testutil

import (
	"podlog/internal/encryption"
	"podlog/internal/podlog"
)

// NewTestEncryptor creates a deterministic encryptor that needs no keys.
func NewTestEncryptor() podlog.Encryptor {
	return encryption.NewTestEncryptor()
}
