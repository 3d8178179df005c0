// Package vectorstore wraps chromem-go with tenant-scoped collections and
// disk persistence.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
)

// ErrForbidden is returned when a tenant addresses a collection it does not
// own. The collection naming convention alone is not trusted as isolation:
// ownership is validated on every call and documents are additionally
// filtered by tenant metadata.
var ErrForbidden = errors.New("collection does not belong to tenant")

// Document is a chunk to embed into a collection.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is a single semantic-search hit.
type SearchResult struct {
	DocumentID string
	Content    string
	Score      float32
}

// Store wraps chromem-go with per-tenant collections.
type Store struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
}

// New creates (or opens) the persistent vector store at dataDir/vectorstore/.
// embedFunc is the embedding function, typically chromem.NewEmbeddingFuncOpenAICompat
// pointed at the configured embeddings endpoint.
func New(dataDir string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	dir := filepath.Join(dataDir, "vectorstore")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "create vectorstore dir")
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, errors.Wrap(err, "open vectorstore")
	}
	return &Store{db: db, embedFn: embedFunc}, nil
}

// NewInMemory creates a non-persistent store, used by tests.
func NewInMemory(embedFunc chromem.EmbeddingFunc) *Store {
	return &Store{db: chromem.NewDB(), embedFn: embedFunc}
}

// CollectionName derives the canonical collection name for a tenant.
func CollectionName(tenantID, name string) string {
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("tenant_%s_%s", tenantID, name)
}

// validateOwnership checks that the collection identifier is scoped to the
// tenant. Callers may pass either a bare name or a fully qualified
// tenant_<id>_<name> identifier. The prefix check is only sound when the
// tenant id cannot contain the "_" separator, so that is enforced here as
// well as at tenant provisioning.
func validateOwnership(tenantID, collection string) (string, error) {
	if tenantID == "" || strings.ContainsRune(tenantID, '_') {
		return "", errors.Errorf("invalid tenant id %q", tenantID)
	}
	if collection == "" || !strings.HasPrefix(collection, "tenant_") {
		return CollectionName(tenantID, collection), nil
	}
	if !strings.HasPrefix(collection, "tenant_"+tenantID+"_") {
		return "", errors.Wrapf(ErrForbidden, "collection %s", collection)
	}
	return collection, nil
}

func (s *Store) getOrCreateCollection(name string, tenantID string) *chromem.Collection {
	col := s.db.GetCollection(name, s.embedFn)
	if col == nil {
		var err error
		col, err = s.db.CreateCollection(name, map[string]string{"tenant_id": tenantID}, s.embedFn)
		if err != nil {
			slog.Error("failed to create vector collection", "tenant", tenantID, "collection", name, "err", err)
			return nil
		}
	}
	return col
}

// AddDocuments embeds documents into the tenant's collection and returns the
// fully qualified collection identifier.
func (s *Store) AddDocuments(ctx context.Context, tenantID, collection string, docs []Document) (string, error) {
	name, err := validateOwnership(tenantID, collection)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.getOrCreateCollection(name, tenantID)
	if col == nil {
		return "", errors.Errorf("nil collection %s", name)
	}
	for _, doc := range docs {
		metadata := map[string]string{"tenant_id": tenantID}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		if err := col.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: metadata,
		}); err != nil {
			return "", errors.Wrapf(err, "add document %s", doc.ID)
		}
	}
	return name, nil
}

// SearchSimilar returns the top-k documents most similar to the query within
// the tenant's collection. Results are filtered by tenant metadata so even a
// mis-scoped collection cannot leak another tenant's chunks.
func (s *Store) SearchSimilar(ctx context.Context, tenantID, collection, query string, k int) ([]SearchResult, error) {
	name, err := validateOwnership(tenantID, collection)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(name, s.embedFn)
	if col == nil {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	where := map[string]string{"tenant_id": tenantID}
	var results []chromem.Result
	// chromem-go sometimes throws "nResults must be <= number of documents"
	// despite Count checks. Step down k if it fails.
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.Query(ctx, query, attemptK, where, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			DocumentID: r.ID,
			Content:    r.Content,
			Score:      r.Similarity,
		})
	}
	return out, nil
}

// DeleteCollection removes a tenant's collection entirely.
func (s *Store) DeleteCollection(_ context.Context, tenantID, collection string) error {
	name, err := validateOwnership(tenantID, collection)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.DeleteCollection(name)
}
