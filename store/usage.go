package store

// UsageRecord is the accounting entry for one model invocation. Immutable
// once written; aggregated later for billing and analytics.
type UsageRecord struct {
	ID       int64
	TenantID string
	// RunID identifies the model invocation the record belongs to.
	RunID        string
	Model        string
	InputTokens  int32
	OutputTokens int32
	CreatedTs    int64
}

// FindUsageRecord filters for ListUsageRecords / SummarizeUsage.
type FindUsageRecord struct {
	TenantID *string
	RunID    *string
	Model    *string
	// Since and Until bound CreatedTs (inclusive).
	Since *int64
	Until *int64
}

// UsageSummary is a per-(tenant, model) aggregate over usage records.
type UsageSummary struct {
	TenantID     string
	Model        string
	Invocations  int64
	InputTokens  int64
	OutputTokens int64
}
