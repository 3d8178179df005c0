package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/parasol-ai/parasol/plugin/vectorstore"
	"github.com/parasol-ai/parasol/store"
)

// Every tool carries the owning tenant's identity so no tool call can reach
// another tenant's data.

// ─────────────────────────────────────────────────────────────────────────────
// Document search
// ─────────────────────────────────────────────────────────────────────────────

type documentSearchTool struct {
	vs       *vectorstore.Store
	tenantID string
}

func newDocumentSearchTool(vs *vectorstore.Store, tenantID string) tools.Tool {
	return &documentSearchTool{vs: vs, tenantID: tenantID}
}

func (t *documentSearchTool) Name() string { return "document_search" }
func (t *documentSearchTool) Description() string {
	return "Search the tenant's knowledge base for documents relevant to a topic. Input must be a JSON string with key `query` (string) and optional `collection` (string)."
}

func (t *documentSearchTool) Call(ctx context.Context, input string) (string, error) {
	slog.Info("[AGENT TOOL CALL]", "tool", t.Name(), "tenant_id", t.tenantID, "input", input)
	if t.vs == nil {
		return "Document search is not available.", nil
	}
	var payload struct {
		Query      string `json:"query"`
		Collection string `json:"collection"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		// Some models pass the bare query instead of JSON.
		payload.Query = input
	}
	if strings.TrimSpace(payload.Query) == "" {
		return "Error: query required.", nil
	}

	results, err := t.vs.SearchSimilar(ctx, t.tenantID, payload.Collection, payload.Query, 5)
	if err != nil {
		return "Error searching documents: " + err.Error(), nil
	}
	if len(results) == 0 {
		return "No relevant documents found.", nil
	}
	var sb strings.Builder
	for i, r := range results {
		preview := r.Content
		if len(preview) > 400 {
			preview = preview[:400] + "..."
		}
		sb.WriteString(fmt.Sprintf("[%d] Document %s (score %.2f):\n%s\n\n", i+1, r.DocumentID, r.Score, preview))
	}
	return sb.String(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Data analysis
// ─────────────────────────────────────────────────────────────────────────────

type dataAnalysisTool struct {
	store  *store.Store
	tenant *store.Tenant
}

func newDataAnalysisTool(s *store.Store, tenant *store.Tenant) tools.Tool {
	return &dataAnalysisTool{store: s, tenant: tenant}
}

func (t *dataAnalysisTool) Name() string { return "data_analysis" }
func (t *dataAnalysisTool) Description() string {
	return `Analyze the tenant's own operational data. Input must be a JSON string with key "dataset" ("usage" or "documents") and optional "since"/"until" dates (YYYY-MM-DD).`
}

func (t *dataAnalysisTool) Call(ctx context.Context, input string) (string, error) {
	slog.Info("[AGENT TOOL CALL]", "tool", t.Name(), "tenant_id", t.tenant.ID, "input", input)
	var payload struct {
		Dataset string `json:"dataset"`
		Since   string `json:"since"`
		Until   string `json:"until"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return "Error: failed to parse input JSON.", nil
	}

	switch payload.Dataset {
	case "documents":
		docs, err := t.store.ListDocuments(ctx, t.tenant, &store.FindDocument{})
		if err != nil {
			return "Error listing documents: " + err.Error(), nil
		}
		return fmt.Sprintf("The knowledge base contains %d documents.", len(docs)), nil
	case "usage", "":
		find := &store.FindUsageRecord{TenantID: &t.tenant.ID}
		if parsed, err := time.Parse("2006-01-02", payload.Since); err == nil {
			since := parsed.Unix()
			find.Since = &since
		}
		if parsed, err := time.Parse("2006-01-02", payload.Until); err == nil {
			until := parsed.Add(24 * time.Hour).Unix()
			find.Until = &until
		}
		summaries, err := t.store.SummarizeUsage(ctx, find)
		if err != nil {
			return "Error summarizing usage: " + err.Error(), nil
		}
		if len(summaries) == 0 {
			return "No usage recorded for that period.", nil
		}
		var sb strings.Builder
		for _, s := range summaries {
			sb.WriteString(fmt.Sprintf("model %s: %d invocations, %d input tokens, %d output tokens\n",
				s.Model, s.Invocations, s.InputTokens, s.OutputTokens))
		}
		return sb.String(), nil
	default:
		return fmt.Sprintf("Unknown dataset %q.", payload.Dataset), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// API integration
// ─────────────────────────────────────────────────────────────────────────────

type apiIntegrationTool struct {
	tenant *store.Tenant
	client *http.Client
}

func newAPIIntegrationTool(tenant *store.Tenant) tools.Tool {
	return &apiIntegrationTool{
		tenant: tenant,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *apiIntegrationTool) Name() string { return "api_integration" }
func (t *apiIntegrationTool) Description() string {
	return `Fetch data from one of the tenant's configured external API integrations. Input must be a JSON string with key "integration" (string), the name of a configured integration.`
}

// integrations reads the allowlisted endpoints from the tenant config blob.
// Only endpoints configured for this tenant can ever be called.
func (t *apiIntegrationTool) integrations() map[string]string {
	var config struct {
		Integrations map[string]string `json:"integrations"`
	}
	if err := json.Unmarshal([]byte(t.tenant.Config), &config); err != nil {
		return nil
	}
	return config.Integrations
}

func (t *apiIntegrationTool) Call(ctx context.Context, input string) (string, error) {
	slog.Info("[AGENT TOOL CALL]", "tool", t.Name(), "tenant_id", t.tenant.ID, "input", input)
	var payload struct {
		Integration string `json:"integration"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return "Error: failed to parse input JSON.", nil
	}

	endpoints := t.integrations()
	url, ok := endpoints[payload.Integration]
	if !ok {
		return fmt.Sprintf("Unknown integration %q. Configured integrations: %s",
			payload.Integration, strings.Join(integrationNames(endpoints), ", ")), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "Error building request: " + err.Error(), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "Error calling integration: " + err.Error(), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "Error reading integration response: " + err.Error(), nil
	}
	return fmt.Sprintf("Integration %s responded with status %d:\n%s", payload.Integration, resp.StatusCode, string(body)), nil
}

func integrationNames(endpoints map[string]string) []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	return names
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool schema definitions sent to the model
// ─────────────────────────────────────────────────────────────────────────────

func buildToolDef(name, description string, properties map[string]any, required []string) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

func toolDefinitions() []llms.Tool {
	return []llms.Tool{
		buildToolDef("document_search", "Search the tenant's knowledge base semantically for a concept or topic.", map[string]any{
			"query":      map[string]any{"type": "string", "description": "The search query"},
			"collection": map[string]any{"type": "string", "description": "Optional knowledge collection name"},
		}, []string{"query"}),
		buildToolDef("data_analysis", "Analyze the tenant's usage or document statistics.", map[string]any{
			"dataset": map[string]any{"type": "string", "description": "Which dataset to analyze: 'usage' or 'documents'"},
			"since":   map[string]any{"type": "string", "description": "Start date in YYYY-MM-DD (optional)"},
			"until":   map[string]any{"type": "string", "description": "End date in YYYY-MM-DD (optional)"},
		}, []string{"dataset"}),
		buildToolDef("api_integration", "Fetch data from a configured external API integration.", map[string]any{
			"integration": map[string]any{"type": "string", "description": "Name of the configured integration"},
		}, []string{"integration"}),
	}
}
