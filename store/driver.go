package store

import (
	"context"
	"database/sql"
)

// Driver is the contract a relational backend implements.
type Driver interface {
	GetDB() *sql.DB
	// Migrate creates the shared (non-tenant) tables.
	Migrate(ctx context.Context) error

	// CreateTenant provisions the tenant atomically: the dedicated namespace,
	// its structures, and the tenant record. A failed provisioning must not
	// leave a half-provisioned tenant behind.
	CreateTenant(ctx context.Context, create *Tenant) (*Tenant, error)
	ListTenants(ctx context.Context, find *FindTenant) ([]*Tenant, error)
	UpdateTenant(ctx context.Context, update *UpdateTenant) (*Tenant, error)

	CreateUsageRecord(ctx context.Context, create *UsageRecord) (*UsageRecord, error)
	ListUsageRecords(ctx context.Context, find *FindUsageRecord) ([]*UsageRecord, error)
	SummarizeUsage(ctx context.Context, find *FindUsageRecord) ([]*UsageSummary, error)

	CreateDocument(ctx context.Context, tenant *Tenant, create *Document) (*Document, error)
	ListDocuments(ctx context.Context, tenant *Tenant, find *FindDocument) ([]*Document, error)

	Close() error
}
