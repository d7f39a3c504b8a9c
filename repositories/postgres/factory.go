package postgres

import (
	"github.com/upb/kafka-control-plane/config"
	"github.com/upb/kafka-control-plane/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for audit logs
	logger  *zap.Logger
}

// NewRepositoryFactory opens the main pool and, when configured, the audit pool
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// NewRepositoryFactoryFromDB builds a factory around an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	auditDB := f.db
	if f.auditDB != nil {
		auditDB = f.auditDB
	}
	return &repositories.Repositories{
		Policies:              NewPolicyRepository(f.db, f.logger),
		ProvisioningRequests:  NewProvisioningRequestRepository(f.db, f.logger),
		Quotas:                NewQuotaRepository(f.db, f.logger),
		WorkspaceEnvironments: NewWorkspaceEnvironmentRepository(f.db, f.logger),
		AuditLogs:             NewAuditRepository(auditDB, f.logger),
	}
}

// Migrate applies pending schema migrations to every pool the factory owns
func (f *RepositoryFactory) Migrate() error {
	if err := f.db.MigrateUp(); err != nil {
		return err
	}
	if f.auditDB != nil {
		return f.auditDB.MigrateUp()
	}
	return nil
}

// GetTransactionManager returns a transaction manager over the main pool
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
