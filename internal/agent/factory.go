// Package agent assembles and runs per-tenant tool-using agents.
package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/tools"

	"github.com/parasol-ai/parasol/internal/llm"
	"github.com/parasol-ai/parasol/plugin/vectorstore"
	"github.com/parasol-ai/parasol/store"
)

const (
	// maxAgentRounds caps the number of tool-use iterations per request.
	maxAgentRounds = 6

	// maxModelAttempts bounds retries of a single model call on transient
	// upstream failures.
	maxModelAttempts = 3
)

var systemPrompt = prompts.NewPromptTemplate(
	`You are an assistant specialized in {{.domain}}. Use the available tools to help the user.
Never answer from memory when a tool can look the information up; if a tool returns no results, say exactly that.`,
	[]string{"domain"},
)

// QueryContext is the optional extra context a caller can attach to a query.
// Named fields instead of an open-ended key-value bag, so unknown keys are
// rejected at the API boundary.
type QueryContext struct {
	// Timeframe narrows the period the query is about, e.g. "last_quarter".
	Timeframe string `json:"timeframe,omitempty"`
	// Metrics lists the metrics of interest, e.g. ["revenue", "growth"].
	Metrics []string `json:"metrics,omitempty"`
	// Instructions carries free-form steering for the agent.
	Instructions string `json:"instructions,omitempty"`
}

func (qc *QueryContext) render() string {
	if qc == nil {
		return ""
	}
	var sb strings.Builder
	if qc.Timeframe != "" {
		sb.WriteString("Timeframe: " + qc.Timeframe + "\n")
	}
	if len(qc.Metrics) > 0 {
		sb.WriteString("Metrics of interest: " + strings.Join(qc.Metrics, ", ") + "\n")
	}
	if qc.Instructions != "" {
		sb.WriteString(qc.Instructions + "\n")
	}
	return sb.String()
}

// Agent is one executable agent session: prompt, tenant-scoped tools,
// conversational memory and the tenant's model client. Scoped to one
// request/conversation, never persisted.
type Agent struct {
	tenant *store.Tenant
	domain string
	llm    llms.Model

	registry map[string]tools.Tool
	toolDefs []llms.Tool
	memory   *memory.ConversationBuffer
}

// Factory builds agents from the tenant's cached model client and the
// tenant-scoped tool set.
type Factory struct {
	store    *store.Store
	registry *llm.Registry
	vector   *vectorstore.Store
}

func NewFactory(s *store.Store, registry *llm.Registry, vector *vectorstore.Store) *Factory {
	return &Factory{store: s, registry: registry, vector: vector}
}

// CreateAgent assembles an executable agent for the tenant and domain. The
// conversation buffer starts empty for each session.
func (f *Factory) CreateAgent(ctx context.Context, tenant *store.Tenant, domain string) (*Agent, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, errors.New("domain required")
	}
	model, err := f.registry.Get(ctx, tenant, "")
	if err != nil {
		return nil, errors.Wrap(err, "resolve model client")
	}

	registry := map[string]tools.Tool{}
	for _, t := range []tools.Tool{
		newDocumentSearchTool(f.vector, tenant.ID),
		newDataAnalysisTool(f.store, tenant),
		newAPIIntegrationTool(tenant),
	} {
		registry[t.Name()] = t
	}

	return &Agent{
		tenant:   tenant,
		domain:   domain,
		llm:      model,
		registry: registry,
		toolDefs: toolDefinitions(),
		memory:   memory.NewConversationBuffer(),
	}, nil
}

// CreateAgentForModel is CreateAgent with an explicit model name.
func (f *Factory) CreateAgentForModel(ctx context.Context, tenant *store.Tenant, domain, modelName string) (*Agent, error) {
	agent, err := f.CreateAgent(ctx, tenant, domain)
	if err != nil {
		return nil, err
	}
	if modelName != "" {
		model, err := f.registry.Get(ctx, tenant, modelName)
		if err != nil {
			return nil, errors.Wrap(err, "resolve model client")
		}
		agent.llm = model
	}
	return agent, nil
}

// RunAgent invokes the agent with the query and optional extra context,
// returning the final natural-language output. The native function-calling
// loop is used rather than a text-parsing executor: the model decides on
// tool calls, the loop dispatches them and feeds results back, bounded by
// maxAgentRounds.
func (f *Factory) RunAgent(ctx context.Context, agent *Agent, query string, extra *QueryContext) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", errors.New("query required")
	}

	system, err := systemPrompt.Format(map[string]any{"domain": agent.domain})
	if err != nil {
		return "", errors.Wrap(err, "format system prompt")
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
	}
	history, err := agent.memory.ChatHistory.Messages(ctx)
	if err != nil {
		return "", errors.Wrap(err, "load conversation memory")
	}
	for _, m := range history {
		messages = append(messages, llms.TextParts(m.GetType(), m.GetContent()))
	}

	userText := query
	if extraText := extra.render(); extraText != "" {
		userText = query + "\n\nAdditional context:\n" + extraText
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, userText))

	slog.Info("[AGENT INIT]", "tenant_id", agent.tenant.ID, "domain", agent.domain, "tools", len(agent.toolDefs))

	var finalAnswer string
	for round := 0; round < maxAgentRounds; round++ {
		resp, err := f.generateWithRetry(ctx, agent, messages)
		if err != nil {
			return "", errors.Wrap(err, "model invocation")
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("empty response from model")
		}
		choice := resp.Choices[0]

		// No tool calls means the final text answer.
		if len(choice.ToolCalls) == 0 {
			if strings.TrimSpace(choice.Content) == "" {
				return "", errors.New("model returned an empty answer")
			}
			finalAnswer = choice.Content
			slog.Info("[AGENT FINISH]", "tenant_id", agent.tenant.ID, "rounds", round+1)
			break
		}

		assistantMsg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			assistantMsg.Parts = append(assistantMsg.Parts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantMsg.Parts = append(assistantMsg.Parts, tc)
		}
		messages = append(messages, assistantMsg)

		// Some models repeat the same tool_call id in one response.
		seenCallIDs := make(map[string]bool)
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil || seenCallIDs[tc.ID] {
				continue
			}
			seenCallIDs[tc.ID] = true

			var result string
			if t, ok := agent.registry[tc.FunctionCall.Name]; ok {
				result, err = t.Call(ctx, tc.FunctionCall.Arguments)
				if err != nil {
					result = "Error: " + err.Error()
				}
			} else {
				result = "Unknown tool: " + tc.FunctionCall.Name
			}
			slog.Info("[AGENT TOOL RESULT]", "tool", tc.FunctionCall.Name, "result_len", len(result))

			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    result,
				}},
			})
		}
	}

	if finalAnswer == "" {
		return "", errors.Errorf("agent exceeded %d tool rounds without an answer", maxAgentRounds)
	}

	if err := agent.memory.ChatHistory.AddUserMessage(ctx, query); err == nil {
		_ = agent.memory.ChatHistory.AddAIMessage(ctx, finalAnswer)
	}
	return finalAnswer, nil
}

// generateWithRetry retries transient upstream failures with exponential
// backoff. Cancellation and request-shaped errors are permanent.
func (f *Factory) generateWithRetry(ctx context.Context, agent *Agent, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	var resp *llms.ContentResponse
	op := func() error {
		var err error
		resp, err = agent.llm.GenerateContent(ctx, messages,
			llms.WithTools(agent.toolDefs),
			llms.WithTemperature(llm.Temperature),
		)
		if err == nil {
			return nil
		}
		if isPermanentUpstreamError(ctx, err) {
			return backoff.Permanent(err)
		}
		slog.Warn("transient model failure, retrying", "tenant_id", agent.tenant.ID, "err", err)
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxModelAttempts-1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return resp, nil
}

func isPermanentUpstreamError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"status code: 400", "status code: 401", "status code: 403", "status code: 404"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
