// Package docqa builds per-tenant knowledge bases and answers questions
// over them with retrieval-augmented generation.
package docqa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/prompts"

	"github.com/parasol-ai/parasol/internal/llm"
	"github.com/parasol-ai/parasol/plugin/vectorstore"
	"github.com/parasol-ai/parasol/store"
)

// retrievalK is the number of nearest-neighbor chunks attached to a query.
const retrievalK = 4

var answerPrompt = prompts.NewPromptTemplate(
	`Answer the question using only the retrieved context below. If the context does not contain the answer, say you do not know.

Context:
{{.context}}

Question: {{.question}}`,
	[]string{"context", "question"},
)

// Document is one raw document to ingest.
type Document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Message is one prior conversation turn supplied with a query.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assembly wires the tenant's vector collection, relational namespace and
// cached model client together.
type Assembly struct {
	store    *store.Store
	registry *llm.Registry
	vector   *vectorstore.Store
}

func New(s *store.Store, registry *llm.Registry, vector *vectorstore.Store) *Assembly {
	return &Assembly{store: s, registry: registry, vector: vector}
}

// CreateKnowledgeBase embeds the documents under a tenant-derived (or
// caller-supplied, ownership-validated) collection name and persists the raw
// documents into the tenant's relational namespace. Returns the collection
// identifier.
func (a *Assembly) CreateKnowledgeBase(ctx context.Context, tenant *store.Tenant, docs []Document, collectionName string) (string, error) {
	if len(docs) == 0 {
		return "", errors.New("documents required")
	}

	chunks := make([]vectorstore.Document, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		uid := shortuuid.New()
		if _, err := a.store.CreateDocument(ctx, tenant, &store.Document{
			UID:     uid,
			Title:   doc.Title,
			Content: doc.Content,
		}); err != nil {
			return "", errors.Wrap(err, "persist document")
		}
		chunks = append(chunks, vectorstore.Document{
			ID:      uid,
			Content: doc.Content,
			Metadata: map[string]string{
				"title": doc.Title,
			},
		})
	}
	if len(chunks) == 0 {
		return "", errors.New("no non-empty documents")
	}

	collectionID, err := a.vector.AddDocuments(ctx, tenant.ID, collectionName, chunks)
	if err != nil {
		return "", errors.Wrap(err, "embed documents")
	}
	slog.Info("knowledge base created", "tenant_id", tenant.ID, "collection", collectionID, "documents", len(chunks))
	return collectionID, nil
}

// QueryDocuments retrieves the nearest chunks for the query from the
// tenant's collection and asks the tenant's model to answer using that
// context plus the supplied conversation history.
func (a *Assembly) QueryDocuments(ctx context.Context, tenant *store.Tenant, collectionID, query string, history []Message) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", errors.New("query required")
	}

	results, err := a.vector.SearchSimilar(ctx, tenant.ID, collectionID, query, retrievalK)
	if err != nil {
		return "", errors.Wrap(err, "retrieve documents")
	}
	var contextText strings.Builder
	for i, r := range results {
		contextText.WriteString(fmt.Sprintf("[%d] %s\n\n", i+1, r.Content))
	}
	if contextText.Len() == 0 {
		contextText.WriteString("(no matching documents)")
	}

	// The conversation buffer is seeded per invocation from the supplied
	// history; it lives only for this request.
	buffer := memory.NewConversationBuffer()
	for _, m := range history {
		switch m.Role {
		case "assistant", "ai":
			_ = buffer.ChatHistory.AddAIMessage(ctx, m.Content)
		default:
			_ = buffer.ChatHistory.AddUserMessage(ctx, m.Content)
		}
	}

	question, err := answerPrompt.Format(map[string]any{
		"context":  contextText.String(),
		"question": query,
	})
	if err != nil {
		return "", errors.Wrap(err, "format answer prompt")
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "You answer questions about the tenant's documents."),
	}
	past, err := buffer.ChatHistory.Messages(ctx)
	if err != nil {
		return "", errors.Wrap(err, "load history")
	}
	for _, m := range past {
		messages = append(messages, llms.TextParts(m.GetType(), m.GetContent()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))

	model, err := a.registry.Get(ctx, tenant, "")
	if err != nil {
		return "", errors.Wrap(err, "resolve model client")
	}
	resp, err := model.GenerateContent(ctx, messages, llms.WithTemperature(llm.Temperature))
	if err != nil {
		return "", errors.Wrap(err, "model invocation")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Content, nil
}
