package store

// RowStatus is the soft-deletion state of a row.
type RowStatus string

const (
	// Normal is the status for an active row.
	Normal RowStatus = "NORMAL"
	// Archived is the status for a soft-deactivated row. Archived tenants
	// keep their usage history but cannot run agents.
	Archived RowStatus = "ARCHIVED"
)

// Tenant is an isolated customer account with its own configuration, data
// namespace and usage history.
type Tenant struct {
	ID string
	// Name is the display name.
	Name string
	// SchemaName is the dedicated storage namespace. Unique and stable for
	// the tenant's lifetime.
	SchemaName string
	// Config is an arbitrary JSON configuration blob.
	Config string
	// Branding is a JSON white-label customization blob.
	Branding string
	// Plan is the subscription plan identifier.
	Plan string
	// Limits is a JSON resource-limits blob.
	Limits string
	RowStatus RowStatus
	CreatedTs int64
	UpdatedTs int64
}

// Active reports whether the tenant may run agents and billing actions.
func (t *Tenant) Active() bool {
	return t != nil && t.RowStatus == Normal
}

// FindTenant filters for ListTenants / GetTenant.
type FindTenant struct {
	ID         *string
	SchemaName *string
	RowStatus  *RowStatus
}

// UpdateTenant carries the mutable tenant fields. Nil fields are untouched.
type UpdateTenant struct {
	ID        string
	Name      *string
	Config    *string
	Branding  *string
	Plan      *string
	Limits    *string
	RowStatus *RowStatus
}
