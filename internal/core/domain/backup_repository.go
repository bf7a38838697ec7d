package domain

import "context"

// BackupProviderRepository is the abstraction for any kind of database
// intended to persist backup providers.
type BackupProviderRepository interface {
	GetBackupProvider(ctx context.Context, baseURL string) (*BackupProvider, error)
	GetAllBackupProviders(ctx context.Context) ([]*BackupProvider, error)
	AddOrUpdateBackupProvider(ctx context.Context, provider *BackupProvider) error
	UpdateBackupProvider(
		ctx context.Context, baseURL string,
		updateFn func(p *BackupProvider) (*BackupProvider, error),
	) error
	DeleteBackupProvider(ctx context.Context, baseURL string) error
}

// BackupConfigRepository persists the backup state of the wallet.
type BackupConfigRepository interface {
	// GetBackupConfig returns the backup config, or nil if not created yet.
	GetBackupConfig(ctx context.Context) (*BackupConfig, error)
	SaveBackupConfig(ctx context.Context, config *BackupConfig) error
}
