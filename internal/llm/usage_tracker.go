// Package llm manages per-tenant chat-model clients and the usage
// instrumentation attached to them.
package llm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/parasol-ai/parasol/store"
)

// UsageStore persists usage records. Satisfied by *store.Store.
type UsageStore interface {
	CreateUsageRecord(ctx context.Context, create *store.UsageRecord) (*store.UsageRecord, error)
}

// UsageTracker hooks the model-invocation lifecycle to count tokens and
// persist one usage record per completed call. All failures inside the
// tracker are logged and swallowed: usage accounting is best-effort
// telemetry and must never affect the model call it observes.
type UsageTracker struct {
	callbacks.SimpleHandler

	tenantID string
	model    string
	usage    UsageStore

	// One tracker is bound to one cached client, and the single-key client
	// cache means concurrent calls for the same (tenant, model) share it.
	// The provider passes the same ctx to the start and end hooks of one
	// invocation, so pending-call state is keyed by it; overlapping calls
	// must not pair one call's start with another's end.
	mu    sync.Mutex
	calls map[context.Context]*callState
}

type callState struct {
	runID       string
	inputTokens int32
}

func NewUsageTracker(tenantID, model string, usage UsageStore) *UsageTracker {
	return &UsageTracker{
		tenantID: tenantID,
		model:    model,
		usage:    usage,
		calls:    make(map[context.Context]*callState),
	}
}

// HandleLLMGenerateContentStart opens the per-call state and counts tokens
// across all input messages before the call runs.
func (t *UsageTracker) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	state := &callState{runID: uuid.New().String()}
	for _, m := range ms {
		for _, part := range m.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				state.inputTokens += int32(llms.CountTokens(t.model, p.Text))
			case llms.ToolCallResponse:
				state.inputTokens += int32(llms.CountTokens(t.model, p.Content))
			case llms.ToolCall:
				if p.FunctionCall != nil {
					state.inputTokens += int32(llms.CountTokens(t.model, p.FunctionCall.Arguments))
				}
			}
		}
	}

	t.mu.Lock()
	t.calls[ctx] = state
	t.mu.Unlock()

	slog.Info("llm_call_started",
		"tenant_id", t.tenantID,
		"run_id", state.runID,
		"model", t.model,
		"input_tokens", state.inputTokens)
}

// HandleLLMGenerateContentEnd reads the completion token count from the
// response metadata and persists the usage record for this invocation.
func (t *UsageTracker) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	state := t.popCall(ctx)

	outputTokens := completionTokens(res)
	if _, err := t.usage.CreateUsageRecord(ctx, &store.UsageRecord{
		TenantID:     t.tenantID,
		RunID:        state.runID,
		Model:        t.model,
		InputTokens:  state.inputTokens,
		OutputTokens: outputTokens,
	}); err != nil {
		slog.Warn("failed to persist usage record",
			"tenant_id", t.tenantID, "run_id", state.runID, "err", err)
		return
	}

	slog.Info("llm_call_completed",
		"tenant_id", t.tenantID,
		"run_id", state.runID,
		"model", t.model,
		"input_tokens", state.inputTokens,
		"output_tokens", outputTokens)
}

func (t *UsageTracker) HandleLLMError(ctx context.Context, err error) {
	state := t.popCall(ctx)
	slog.Warn("llm_call_failed", "tenant_id", t.tenantID, "run_id", state.runID, "err", err)
}

// popCall removes and returns the pending state for the invocation. An end
// hook without a matching start still yields a usable state so the record
// is not lost.
func (t *UsageTracker) popCall(ctx context.Context) *callState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.calls[ctx]; ok {
		delete(t.calls, ctx)
		return state
	}
	return &callState{runID: uuid.New().String()}
}

// completionTokens extracts the completion token count from the response
// metadata. Providers report it as an int but the map is untyped.
func completionTokens(res *llms.ContentResponse) int32 {
	if res == nil {
		return 0
	}
	for _, choice := range res.Choices {
		if choice == nil || choice.GenerationInfo == nil {
			continue
		}
		if v, ok := choice.GenerationInfo["CompletionTokens"]; ok {
			switch n := v.(type) {
			case int:
				return int32(n)
			case int32:
				return n
			case int64:
				return int32(n)
			case float64:
				return int32(n)
			}
		}
	}
	return 0
}
