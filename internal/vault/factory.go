package vault

import (
	"context"
	"fmt"

	"podlog/internal/config"
	"podlog/internal/podlog"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (podlog.Vault, error) {
	var (
		v   podlog.Vault
		err error
	)
	switch cfg.Type {
	case "memory":
		v = NewMemoryVault(cfg.Name)
	case "s3":
		v, err = NewS3Vault(ctx, cfg)
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err = NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.UploadMBPS > 0 {
		v = NewThrottledVault(v, cfg.UploadMBPS)
	}
	return v, nil
}
