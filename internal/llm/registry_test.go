package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"

	"github.com/parasol-ai/parasol/store"
)

type stubModel struct {
	key     string
	handler callbacks.Handler
}

func (m *stubModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}, nil
}

func (m *stubModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "ok", nil
}

type nopUsageStore struct{}

func (nopUsageStore) CreateUsageRecord(_ context.Context, create *store.UsageRecord) (*store.UsageRecord, error) {
	return create, nil
}

func countingFactory(constructed *atomic.Int64) ClientFactory {
	return func(tenant *store.Tenant, modelName string, handler callbacks.Handler) (llms.Model, error) {
		constructed.Add(1)
		return &stubModel{key: tenant.ID + ":" + modelName, handler: handler}, nil
	}
}

func testTenant(id string) *store.Tenant {
	return &store.Tenant{ID: id, Name: id, SchemaName: "tenant_" + id, RowStatus: store.Normal}
}

func TestRegistryDistinctHandlesPerTenant(t *testing.T) {
	var constructed atomic.Int64
	registry := NewRegistry(nopUsageStore{}, countingFactory(&constructed), "gpt-x", 8)

	ctx := context.Background()
	c1, err := registry.Get(ctx, testTenant("t1"), "gpt-x")
	require.NoError(t, err)
	c2, err := registry.Get(ctx, testTenant("t2"), "gpt-x")
	require.NoError(t, err)

	require.NotSame(t, c1, c2)
	require.Equal(t, "t1:gpt-x", c1.(*stubModel).key)
	require.Equal(t, "t2:gpt-x", c2.(*stubModel).key)
	// Each client carries its own instrumentation.
	require.NotSame(t, c1.(*stubModel).handler, c2.(*stubModel).handler)
	require.EqualValues(t, 2, constructed.Load())
}

func TestRegistryReturnsCachedHandle(t *testing.T) {
	var constructed atomic.Int64
	registry := NewRegistry(nopUsageStore{}, countingFactory(&constructed), "gpt-x", 8)

	ctx := context.Background()
	first, err := registry.Get(ctx, testTenant("t1"), "gpt-x")
	require.NoError(t, err)
	second, err := registry.Get(ctx, testTenant("t1"), "gpt-x")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.EqualValues(t, 1, constructed.Load())
}

func TestRegistryDefaultModel(t *testing.T) {
	var constructed atomic.Int64
	registry := NewRegistry(nopUsageStore{}, countingFactory(&constructed), "gpt-x", 8)

	client, err := registry.Get(context.Background(), testTenant("t1"), "")
	require.NoError(t, err)
	require.Equal(t, "t1:gpt-x", client.(*stubModel).key)
}

func TestRegistryCoalescesConcurrentMisses(t *testing.T) {
	var constructed atomic.Int64
	registry := NewRegistry(nopUsageStore{}, countingFactory(&constructed), "gpt-x", 8)

	tenant := testTenant("t1")
	var wg sync.WaitGroup
	clients := make([]llms.Model, 16)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := registry.Get(context.Background(), tenant, "gpt-x")
			require.NoError(t, err)
			clients[i] = client
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, constructed.Load())
	for _, client := range clients {
		require.Same(t, clients[0], client)
	}
}

func TestRegistryEvictsLeastRecentlyUsed(t *testing.T) {
	var constructed atomic.Int64
	registry := NewRegistry(nopUsageStore{}, countingFactory(&constructed), "gpt-x", 2)

	ctx := context.Background()
	_, err := registry.Get(ctx, testTenant("t1"), "gpt-x")
	require.NoError(t, err)
	_, err = registry.Get(ctx, testTenant("t2"), "gpt-x")
	require.NoError(t, err)

	// Touch t1 so t2 becomes the eviction candidate.
	_, err = registry.Get(ctx, testTenant("t1"), "gpt-x")
	require.NoError(t, err)

	_, err = registry.Get(ctx, testTenant("t3"), "gpt-x")
	require.NoError(t, err)
	require.Equal(t, 2, registry.Len())

	// t2 was evicted and is rebuilt on the next request.
	require.EqualValues(t, 3, constructed.Load())
	_, err = registry.Get(ctx, testTenant("t2"), "gpt-x")
	require.NoError(t, err)
	require.EqualValues(t, 4, constructed.Load())
}

func TestRegistryInvalidate(t *testing.T) {
	var constructed atomic.Int64
	registry := NewRegistry(nopUsageStore{}, countingFactory(&constructed), "gpt-x", 8)

	ctx := context.Background()
	tenant := testTenant("t1")
	_, err := registry.Get(ctx, tenant, "gpt-x")
	require.NoError(t, err)

	registry.Invalidate("t1", "gpt-x")
	_, err = registry.Get(ctx, tenant, "gpt-x")
	require.NoError(t, err)
	require.EqualValues(t, 2, constructed.Load())
}

func TestRegistryPurgeTenant(t *testing.T) {
	var constructed atomic.Int64
	registry := NewRegistry(nopUsageStore{}, countingFactory(&constructed), "gpt-x", 8)

	ctx := context.Background()
	_, err := registry.Get(ctx, testTenant("t1"), "gpt-x")
	require.NoError(t, err)
	_, err = registry.Get(ctx, testTenant("t1"), "gpt-y")
	require.NoError(t, err)
	_, err = registry.Get(ctx, testTenant("t2"), "gpt-x")
	require.NoError(t, err)

	registry.PurgeTenant("t1")
	require.Equal(t, 1, registry.Len())
}
