package llm

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/singleflight"

	"github.com/parasol-ai/parasol/internal/profile"
	"github.com/parasol-ai/parasol/store"
)

// Temperature is the fixed sampling temperature applied to every tenant
// model invocation.
const Temperature = 0.7

// ClientFactory constructs a chat-model client for a tenant with its usage
// instrumentation attached. Injectable so tests can supply fakes.
type ClientFactory func(tenant *store.Tenant, modelName string, handler callbacks.Handler) (llms.Model, error)

// OpenAIClientFactory builds clients against the configured
// OpenAI-compatible endpoint.
func OpenAIClientFactory(p *profile.Profile) ClientFactory {
	return func(_ *store.Tenant, modelName string, handler callbacks.Handler) (llms.Model, error) {
		client, err := openai.New(
			openai.WithToken(p.LLMAPIKey),
			openai.WithBaseURL(p.LLMBaseURL),
			openai.WithModel(modelName),
			openai.WithCallback(handler),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "construct client for model %s", modelName)
		}
		return client, nil
	}
}

type registryEntry struct {
	key    string
	client llms.Model
}

// Registry is the (tenant, model) → client cache. At most one live client
// exists per key within a process; concurrent misses for the same key are
// coalesced so the client is constructed once. The cache is a bounded LRU:
// evicted handles are simply rebuilt on the next Get.
type Registry struct {
	usage        UsageStore
	newClient    ClientFactory
	defaultModel string
	capacity     int

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

func NewRegistry(usage UsageStore, factory ClientFactory, defaultModel string, capacity int) *Registry {
	if capacity <= 0 {
		capacity = 128
	}
	return &Registry{
		usage:        usage,
		newClient:    factory,
		defaultModel: defaultModel,
		capacity:     capacity,
		entries:      make(map[string]*list.Element),
		lru:          list.New(),
	}
}

func cacheKey(tenantID, model string) string {
	return fmt.Sprintf("%s:%s", tenantID, model)
}

// Get returns the cached client for (tenant, model), constructing and
// memoizing it on a miss.
func (r *Registry) Get(_ context.Context, tenant *store.Tenant, modelName string) (llms.Model, error) {
	if tenant == nil {
		return nil, errors.New("tenant required")
	}
	if modelName == "" {
		modelName = r.defaultModel
	}
	key := cacheKey(tenant.ID, modelName)

	if client, ok := r.lookup(key); ok {
		return client, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// A waiter may arrive after the winner already inserted.
		if client, ok := r.lookup(key); ok {
			return client, nil
		}
		tracker := NewUsageTracker(tenant.ID, modelName, r.usage)
		client, err := r.newClient(tenant, modelName, tracker)
		if err != nil {
			return nil, err
		}
		r.insert(key, client)
		slog.Info("llm client constructed", "tenant_id", tenant.ID, "model", modelName)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(llms.Model), nil
}

func (r *Registry) lookup(key string) (llms.Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elem, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	r.lru.MoveToFront(elem)
	return elem.Value.(*registryEntry).client, true
}

func (r *Registry) insert(key string, client llms.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if elem, ok := r.entries[key]; ok {
		elem.Value.(*registryEntry).client = client
		r.lru.MoveToFront(elem)
		return
	}
	r.entries[key] = r.lru.PushFront(&registryEntry{key: key, client: client})
	for r.lru.Len() > r.capacity {
		oldest := r.lru.Back()
		if oldest == nil {
			break
		}
		evicted := r.lru.Remove(oldest).(*registryEntry)
		delete(r.entries, evicted.key)
		slog.Info("llm client evicted", "key", evicted.key)
	}
}

// Invalidate drops a single cached client.
func (r *Registry) Invalidate(tenantID, modelName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cacheKey(tenantID, modelName)
	if elem, ok := r.entries[key]; ok {
		r.lru.Remove(elem)
		delete(r.entries, key)
	}
}

// PurgeTenant drops every cached client for a tenant, e.g. after an
// administrative configuration change or deactivation.
func (r *Registry) PurgeTenant(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := tenantID + ":"
	for key, elem := range r.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			r.lru.Remove(elem)
			delete(r.entries, key)
		}
	}
}

// Len reports the number of cached clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}
