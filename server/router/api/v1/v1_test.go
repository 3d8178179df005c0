package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/parasol-ai/parasol/internal/agent"
	"github.com/parasol-ai/parasol/internal/docqa"
	"github.com/parasol-ai/parasol/internal/llm"
	"github.com/parasol-ai/parasol/internal/profile"
	"github.com/parasol-ai/parasol/plugin/vectorstore"
	apiv1 "github.com/parasol-ai/parasol/server/router/api/v1"
	"github.com/parasol-ai/parasol/store"
	"github.com/parasol-ai/parasol/store/db/sqlite"
)

// fixedModel always answers with the same text, firing its usage callback
// the way the real provider clients do.
type fixedModel struct {
	answer  string
	handler callbacks.Handler
	calls   int
}

func (m *fixedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	if m.handler != nil {
		m.handler.HandleLLMGenerateContentStart(ctx, messages)
	}
	resp := &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        m.answer,
		GenerationInfo: map[string]any{"CompletionTokens": 11},
	}}}
	if m.handler != nil {
		m.handler.HandleLLMGenerateContentEnd(ctx, resp)
	}
	return resp, nil
}

func (m *fixedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func testEmbedFunc(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r)
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

type testEnv struct {
	echo  *echo.Echo
	store *store.Store
	model *fixedModel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "parasol_test.db"),
		Data:   t.TempDir(),
		Secret: "test-secret",
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)

	model := &fixedModel{answer: "Revenue grew four percent last quarter."}
	registry := llm.NewRegistry(st, func(_ *store.Tenant, _ string, handler callbacks.Handler) (llms.Model, error) {
		model.handler = handler
		return model, nil
	}, "gpt-x", 8)

	vs := vectorstore.NewInMemory(testEmbedFunc)
	factory := agent.NewFactory(st, registry, vs)
	qa := docqa.New(st, registry, vs)

	e := echo.New()
	apiv1.NewAPIV1Service(p, st, registry, factory, qa).Register(e)

	return &testEnv{echo: e, store: st, model: model}
}

func (env *testEnv) request(t *testing.T, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createTenant(t *testing.T, id string) *store.Tenant {
	t.Helper()
	tenant, err := env.store.CreateTenant(context.Background(), &store.Tenant{ID: id, Name: "Tenant " + id})
	require.NoError(t, err)
	return tenant
}

func TestAgentQueryEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.createTenant(t, "t1")

	rec := env.request(t, http.MethodPost, "/api/v1/agents/query", "t1", map[string]any{
		"query":  "What is our revenue trend?",
		"domain": "business_analysis",
		"model":  "gpt-x",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Response string            `json:"response"`
		Metadata map[string]string `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Response)
	require.Equal(t, "business_analysis", resp.Metadata["domain"])
	require.Equal(t, "t1", resp.Metadata["tenantId"])

	// Exactly one model call means exactly one usage record.
	tenantID := "t1"
	records, err := env.store.ListUsageRecords(context.Background(), &store.FindUsageRecord{TenantID: &tenantID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "gpt-x", records[0].Model)
	require.Positive(t, records[0].InputTokens)
	require.EqualValues(t, 11, records[0].OutputTokens)
}

func TestAgentQueryUnknownTenant(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/v1/agents/query", "unknown", map[string]any{
		"query":  "hello",
		"domain": "business_analysis",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Rejected before any model call, so no usage is recorded.
	require.Zero(t, env.model.calls)
	records, err := env.store.ListUsageRecords(context.Background(), &store.FindUsageRecord{})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestAgentQueryRequiresCredential(t *testing.T) {
	env := newTestEnv(t)
	env.createTenant(t, "t1")

	rec := env.request(t, http.MethodPost, "/api/v1/agents/query", "", map[string]any{
		"query":  "hello",
		"domain": "business_analysis",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentQueryValidation(t *testing.T) {
	env := newTestEnv(t)
	env.createTenant(t, "t1")

	rec := env.request(t, http.MethodPost, "/api/v1/agents/query", "t1", map[string]any{
		"domain": "business_analysis",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/agents/query", "t1", map[string]any{
		"query": "hello",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeBaseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.createTenant(t, "t1")

	rec := env.request(t, http.MethodPost, "/api/v1/knowledge/collections", "t1", map[string]any{
		"documents": []map[string]string{
			{"title": "Q1 report", "content": "Quarterly revenue grew four percent."},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		CollectionID string `json:"collectionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "tenant_t1_default", created.CollectionID)

	rec = env.request(t, http.MethodPost, "/api/v1/knowledge/query", "t1", map[string]any{
		"collectionId": created.CollectionID,
		"query":        "How did revenue trend?",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var answered struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answered))
	require.NotEmpty(t, answered.Answer)
}

func TestKnowledgeQueryCrossTenantForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.createTenant(t, "t1")
	env.createTenant(t, "t2")

	rec := env.request(t, http.MethodPost, "/api/v1/knowledge/collections", "t1", map[string]any{
		"documents": []map[string]string{
			{"title": "secret", "content": "Tenant one confidential plan."},
		},
		"collection": "secrets",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/knowledge/query", "t2", map[string]any{
		"collectionId": "tenant_t1_secrets",
		"query":        "what is the plan?",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/knowledge/collections", "t2", map[string]any{
		"documents": []map[string]string{
			{"title": "x", "content": "injected"},
		},
		"collection": "tenant_t1_secrets",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUsageEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createTenant(t, "t1")
	env.createTenant(t, "t2")

	ctx := context.Background()
	for _, r := range []*store.UsageRecord{
		{TenantID: "t1", RunID: "r1", Model: "gpt-x", InputTokens: 10, OutputTokens: 20},
		{TenantID: "t1", RunID: "r2", Model: "gpt-x", InputTokens: 5, OutputTokens: 7},
		{TenantID: "t2", RunID: "r3", Model: "gpt-x", InputTokens: 99, OutputTokens: 99},
	} {
		_, err := env.store.CreateUsageRecord(ctx, r)
		require.NoError(t, err)
	}

	rec := env.request(t, http.MethodGet, "/api/v1/usage", "t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)

	rec = env.request(t, http.MethodGet, "/api/v1/usage/summary", "t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []struct {
		Model        string `json:"model"`
		Invocations  int64  `json:"invocations"`
		InputTokens  int64  `json:"inputTokens"`
		OutputTokens int64  `json:"outputTokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, "gpt-x", summaries[0].Model)
	require.EqualValues(t, 2, summaries[0].Invocations)
	require.EqualValues(t, 15, summaries[0].InputTokens)
	require.EqualValues(t, 27, summaries[0].OutputTokens)
}

func TestTenantAdminLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Dev mode with no admin token configured allows the admin surface.
	rec := env.request(t, http.MethodPost, "/api/v1/tenants", "", map[string]any{
		"id":   "t1",
		"name": "Tenant One",
		"plan": "pro",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID         string `json:"id"`
		SchemaName string `json:"schemaName"`
		Plan       string `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "t1", created.ID)
	require.Equal(t, "tenant_t1", created.SchemaName)
	require.Equal(t, "pro", created.Plan)

	rec = env.request(t, http.MethodGet, "/api/v1/tenants/t1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Issued tokens authenticate API calls without the dev header.
	rec = env.request(t, http.MethodPost, "/api/v1/tenants/t1/token", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	tokenRec := httptest.NewRecorder()
	env.echo.ServeHTTP(tokenRec, req)
	require.Equal(t, http.StatusOK, tokenRec.Code)

	// Archiving deactivates the tenant for all tenant-facing endpoints.
	rec = env.request(t, http.MethodDelete, "/api/v1/tenants/t1", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/agents/query", "t1", map[string]any{
		"query":  "hello",
		"domain": "business_analysis",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTenantAdminRequiresTokenOutsideDev(t *testing.T) {
	env := newTestEnv(t)

	p := &profile.Profile{Mode: "prod", AdminToken: "hunter2"}
	service := apiv1.NewAPIV1Service(p, env.store, nil, nil, nil)
	e := echo.New()
	service.Register(e)

	body, err := json.Marshal(map[string]any{"name": "Nope"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tenants", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Admin-Token", "hunter2")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}
