// Package store is the tenant directory and usage-accounting layer, backed
// by a relational driver.
package store

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/internal/profile"
)

// ErrTenantNotFound is returned when a tenant does not exist or is archived.
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant ids are embedded in namespace and vector-collection identifiers
// that use "_" as the separator, so the id itself must never contain one.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)

// tenantCacheTTL bounds staleness of the in-process tenant cache so an
// administrative update is observed within this window on other instances.
const tenantCacheTTL = 30 * time.Second

type tenantCacheEntry struct {
	tenant    *Tenant
	expiresAt time.Time
}

// Store wraps a Driver with an in-process tenant cache.
type Store struct {
	Profile *profile.Profile
	driver  Driver

	mu          sync.Mutex
	tenantCache map[string]tenantCacheEntry
}

func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		Profile:     profile,
		driver:      driver,
		tenantCache: make(map[string]tenantCacheEntry),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// CreateTenant provisions a new tenant. The schema name is derived from the
// tenant id and never changes afterwards.
func (s *Store) CreateTenant(ctx context.Context, create *Tenant) (*Tenant, error) {
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.Name == "" {
		return nil, errors.New("tenant name required")
	}
	// The id becomes part of the storage namespace identifier, so it must be
	// safe to embed in DDL.
	if !tenantIDPattern.MatchString(create.ID) {
		return nil, errors.Errorf("invalid tenant id %q", create.ID)
	}
	create.SchemaName = "tenant_" + create.ID
	if create.Plan == "" {
		create.Plan = "free"
	}
	create.RowStatus = Normal
	tenant, err := s.driver.CreateTenant(ctx, create)
	if err != nil {
		return nil, errors.Wrap(err, "provision tenant")
	}
	return tenant, nil
}

// GetTenant returns the tenant by id, served from the in-process cache when
// fresh. Archived tenants are still returned; use ValidateTenant on the
// agent/billing path.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	s.mu.Lock()
	if entry, ok := s.tenantCache[id]; ok && time.Now().Before(entry.expiresAt) {
		s.mu.Unlock()
		return entry.tenant, nil
	}
	s.mu.Unlock()

	tenants, err := s.driver.ListTenants(ctx, &FindTenant{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return nil, ErrTenantNotFound
	}
	tenant := tenants[0]

	s.mu.Lock()
	s.tenantCache[id] = tenantCacheEntry{tenant: tenant, expiresAt: time.Now().Add(tenantCacheTTL)}
	s.mu.Unlock()
	return tenant, nil
}

// ValidateTenant confirms existence and active status before any agent or
// billing action proceeds.
func (s *Store) ValidateTenant(ctx context.Context, id string) (*Tenant, error) {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tenant.Active() {
		return nil, ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Store) ListTenants(ctx context.Context, find *FindTenant) ([]*Tenant, error) {
	return s.driver.ListTenants(ctx, find)
}

func (s *Store) UpdateTenant(ctx context.Context, update *UpdateTenant) (*Tenant, error) {
	tenant, err := s.driver.UpdateTenant(ctx, update)
	if err != nil {
		return nil, err
	}
	s.invalidateTenant(update.ID)
	return tenant, nil
}

// ArchiveTenant soft-deactivates a tenant. Usage history is retained, so
// tenants are never hard-deleted.
func (s *Store) ArchiveTenant(ctx context.Context, id string) (*Tenant, error) {
	archived := Archived
	return s.UpdateTenant(ctx, &UpdateTenant{ID: id, RowStatus: &archived})
}

func (s *Store) invalidateTenant(id string) {
	s.mu.Lock()
	delete(s.tenantCache, id)
	s.mu.Unlock()
}

func (s *Store) CreateUsageRecord(ctx context.Context, create *UsageRecord) (*UsageRecord, error) {
	return s.driver.CreateUsageRecord(ctx, create)
}

func (s *Store) ListUsageRecords(ctx context.Context, find *FindUsageRecord) ([]*UsageRecord, error) {
	return s.driver.ListUsageRecords(ctx, find)
}

func (s *Store) SummarizeUsage(ctx context.Context, find *FindUsageRecord) ([]*UsageSummary, error) {
	return s.driver.SummarizeUsage(ctx, find)
}

func (s *Store) CreateDocument(ctx context.Context, tenant *Tenant, create *Document) (*Document, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	return s.driver.CreateDocument(ctx, tenant, create)
}

func (s *Store) ListDocuments(ctx context.Context, tenant *Tenant, find *FindDocument) ([]*Document, error) {
	return s.driver.ListDocuments(ctx, tenant, find)
}
