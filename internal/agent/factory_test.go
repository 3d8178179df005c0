package agent

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/parasol-ai/parasol/internal/llm"
	"github.com/parasol-ai/parasol/internal/profile"
	"github.com/parasol-ai/parasol/plugin/vectorstore"
	"github.com/parasol-ai/parasol/store"
	"github.com/parasol-ai/parasol/store/db/sqlite"
)

type scriptStep struct {
	resp *llms.ContentResponse
	err  error
}

// scriptedModel replays a fixed sequence of responses, firing its callback
// handler the way the real provider clients do.
type scriptedModel struct {
	handler callbacks.Handler
	steps   []scriptStep
	calls   int
	seen    [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.seen = append(m.seen, messages)
	if m.handler != nil {
		m.handler.HandleLLMGenerateContentStart(ctx, messages)
	}
	step := m.steps[len(m.steps)-1]
	if m.calls < len(m.steps) {
		step = m.steps[m.calls]
	}
	m.calls++
	if step.err != nil {
		if m.handler != nil {
			m.handler.HandleLLMError(ctx, step.err)
		}
		return nil, step.err
	}
	if m.handler != nil {
		m.handler.HandleLLMGenerateContentEnd(ctx, step.resp)
	}
	return step.resp, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func textResponse(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        content,
		GenerationInfo: map[string]any{"CompletionTokens": 5},
	}}}
}

func toolCallResponse(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           id,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
		GenerationInfo: map[string]any{"CompletionTokens": 5},
	}}}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "parasol_test.db"),
		Data:   t.TempDir(),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return store.New(driver, p)
}

func newTestFactory(t *testing.T, usage llm.UsageStore, model *scriptedModel) (*Factory, *store.Tenant) {
	t.Helper()
	st := newTestStore(t)
	tenant, err := st.CreateTenant(context.Background(), &store.Tenant{ID: "t1", Name: "Tenant One"})
	require.NoError(t, err)

	if usage == nil {
		usage = st
	}
	registry := llm.NewRegistry(usage, func(_ *store.Tenant, _ string, handler callbacks.Handler) (llms.Model, error) {
		model.handler = handler
		return model, nil
	}, "gpt-x", 8)

	vs := vectorstore.NewInMemory(stubEmbedder())
	return NewFactory(st, registry, vs), tenant
}

func stubEmbedder() func(ctx context.Context, text string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		v := make([]float32, 4)
		for i, r := range text {
			v[i%4] += float32(r)
		}
		var norm float32
		for _, x := range v {
			norm += x * x
		}
		if norm == 0 {
			v[0] = 1
			return v, nil
		}
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range v {
			v[i] *= inv
		}
		return v, nil
	}
}

func TestRunAgentDirectAnswer(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{{resp: textResponse("Revenue grew 4% last quarter.")}}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	answer, err := factory.RunAgent(ctx, agent, "How did revenue trend?", nil)
	require.NoError(t, err)
	require.Equal(t, "Revenue grew 4% last quarter.", answer)
	require.Equal(t, 1, model.calls)
}

func TestRunAgentToolRound(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{resp: toolCallResponse("call_1", "data_analysis", `{"dataset":"documents"}`)},
		{resp: textResponse("The knowledge base is empty.")},
	}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	answer, err := factory.RunAgent(ctx, agent, "How many documents do we have?", nil)
	require.NoError(t, err)
	require.Equal(t, "The knowledge base is empty.", answer)
	require.Equal(t, 2, model.calls)

	// The second model call must carry the tool result back.
	require.Len(t, model.seen, 2)
	var foundToolResult bool
	for _, msg := range model.seen[1] {
		for _, part := range msg.Parts {
			if tr, ok := part.(llms.ToolCallResponse); ok {
				foundToolResult = true
				require.Equal(t, "call_1", tr.ToolCallID)
				require.Contains(t, tr.Content, "0 documents")
			}
		}
	}
	require.True(t, foundToolResult)
}

func TestRunAgentAppendsQueryContext(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{{resp: textResponse("ok")}}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	_, err = factory.RunAgent(ctx, agent, "Analyze growth", &QueryContext{
		Timeframe: "last_quarter",
		Metrics:   []string{"revenue", "growth"},
	})
	require.NoError(t, err)

	userMsg := model.seen[0][len(model.seen[0])-1]
	text := userMsg.Parts[0].(llms.TextContent).Text
	require.Contains(t, text, "Analyze growth")
	require.Contains(t, text, "Timeframe: last_quarter")
	require.Contains(t, text, "revenue, growth")
}

func TestRunAgentRetriesTransientFailure(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{err: errors.New("status code: 500: upstream hiccup")},
		{resp: textResponse("recovered")},
	}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	answer, err := factory.RunAgent(ctx, agent, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", answer)
	require.Equal(t, 2, model.calls)
}

func TestRunAgentPermanentFailureNotRetried(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{err: errors.New("API returned unexpected status code: 401 Unauthorized")},
	}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	_, err = factory.RunAgent(ctx, agent, "ping", nil)
	require.Error(t, err)
	require.Equal(t, 1, model.calls)
}

func TestRunAgentBoundedToolRounds(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{resp: toolCallResponse("call_loop", "data_analysis", `{"dataset":"documents"}`)},
	}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	_, err = factory.RunAgent(ctx, agent, "loop forever", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tool rounds")
	require.Equal(t, maxAgentRounds, model.calls)
}

func TestRunAgentEmptyAnswerIsNotRoundExhaustion(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{{resp: textResponse("")}}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	_, err = factory.RunAgent(ctx, agent, "ping", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty answer")
	require.NotContains(t, err.Error(), "tool rounds")
	require.Equal(t, 1, model.calls)
}

type failingUsageStore struct{}

func (failingUsageStore) CreateUsageRecord(_ context.Context, _ *store.UsageRecord) (*store.UsageRecord, error) {
	return nil, errors.New("usage store unavailable")
}

func TestRunAgentSurvivesTelemetryFailure(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{{resp: textResponse("still fine")}}}
	factory, tenant := newTestFactory(t, failingUsageStore{}, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	answer, err := factory.RunAgent(ctx, agent, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "still fine", answer)
}

func TestRunAgentWritesUsageRecord(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{{resp: textResponse("answer")}}}
	factory, tenant := newTestFactory(t, nil, model)
	st := factory.store

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	_, err = factory.RunAgent(ctx, agent, "ping", nil)
	require.NoError(t, err)

	records, err := st.ListUsageRecords(ctx, &store.FindUsageRecord{TenantID: &tenant.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, tenant.ID, records[0].TenantID)
	require.Positive(t, records[0].InputTokens)
	require.EqualValues(t, 5, records[0].OutputTokens)
}

func TestCreateAgentRequiresDomain(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{{resp: textResponse("ok")}}}
	factory, tenant := newTestFactory(t, nil, model)

	_, err := factory.CreateAgent(context.Background(), tenant, "  ")
	require.Error(t, err)
}

func TestRunAgentRequiresQuery(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{{resp: textResponse("ok")}}}
	factory, tenant := newTestFactory(t, nil, model)

	agent, err := factory.CreateAgent(context.Background(), tenant, "business_analysis")
	require.NoError(t, err)

	_, err = factory.RunAgent(context.Background(), agent, "", nil)
	require.Error(t, err)
}

func TestRunAgentKeepsConversationMemory(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		{resp: textResponse("first answer")},
		{resp: textResponse("second answer")},
	}}
	factory, tenant := newTestFactory(t, nil, model)

	ctx := context.Background()
	agent, err := factory.CreateAgent(ctx, tenant, "business_analysis")
	require.NoError(t, err)

	_, err = factory.RunAgent(ctx, agent, "first question", nil)
	require.NoError(t, err)
	_, err = factory.RunAgent(ctx, agent, "second question", nil)
	require.NoError(t, err)

	// The second run must replay the first exchange.
	var replayed int
	for _, msg := range model.seen[1] {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				if tc.Text == "first question" || tc.Text == "first answer" {
					replayed++
				}
			}
		}
	}
	require.Equal(t, 2, replayed)
}
