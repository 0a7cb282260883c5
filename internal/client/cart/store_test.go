package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/freshtrio/internal/client/storage"
	"github.com/atinyakov/freshtrio/internal/models"
)

// countingBackend counts writes to the cart key.
type countingBackend struct {
	*storage.MemoryBackend
	mu     sync.Mutex
	writes int
}

func (c *countingBackend) Set(ctx context.Context, key, value string) error {
	if key == KeyState {
		c.mu.Lock()
		c.writes++
		c.mu.Unlock()
	}
	return c.MemoryBackend.Set(ctx, key, value)
}

func (c *countingBackend) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func newTestStore(t *testing.T) (*Store, *countingBackend, *storage.Adapter) {
	t.Helper()
	b := &countingBackend{MemoryBackend: storage.NewMemoryBackend()}
	a := storage.NewAdapter("general", b, nil)
	return NewStore(a, nil), b, a
}

func persisted(t *testing.T, a *storage.Adapter) *models.CartSnapshot {
	t.Helper()
	snap, ok := storage.GetObject[models.CartSnapshot](context.Background(), a, KeyState)
	require.True(t, ok, "cart snapshot not persisted")
	return snap
}

func TestStore_NoWritesBeforeHydration(t *testing.T) {
	s, b, a := newTestStore(t)
	ctx := context.Background()
	storage.SetObject(ctx, a, KeyState, models.CartSnapshot{
		Items: []models.CartItem{item(product("lamb", "8"), 2)},
		Total: decimal.RequireFromString("16"),
	})
	before := b.count()

	require.NoError(t, s.Add(ctx, product("ribeye", "10"), 1))
	s.UpdateQuantity(ctx, "ribeye", 3)
	s.Clear(ctx)
	assert.Equal(t, before, b.count())
	assert.False(t, s.State().IsLoaded)

	s.Hydrate(ctx)
	assert.Equal(t, before, b.count(), "hydration itself must not write")

	st := s.State()
	assert.True(t, st.IsLoaded)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "lamb", st.Items[0].Product.ID)
	assert.True(t, st.Total.Equal(decimal.RequireFromString("16")))
}

func TestStore_PersistsEveryMutationAfterHydration(t *testing.T) {
	s, b, a := newTestStore(t)
	ctx := context.Background()
	s.Hydrate(ctx)

	ribeye := product("ribeye", "12.50")
	require.NoError(t, s.Add(ctx, ribeye, 2))
	require.NoError(t, s.Add(ctx, ribeye, 3))
	assert.Equal(t, 2, b.count())

	snap := persisted(t, a)
	want := &models.CartSnapshot{Items: []models.CartItem{item(ribeye, 5)}, Total: decimal.RequireFromString("62.5")}
	if diff := cmp.Diff(want, snap, cmpState...); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, s.Count())

	s.Remove(ctx, "ribeye")
	assert.Empty(t, persisted(t, a).Items)
	assert.Equal(t, 3, b.count())
}

func TestStore_HydrateOnce(t *testing.T) {
	s, _, a := newTestStore(t)
	ctx := context.Background()
	s.Hydrate(ctx)
	require.NoError(t, s.Add(ctx, product("lamb", "8"), 1))

	storage.SetObject(ctx, a, KeyState, models.CartSnapshot{Items: []models.CartItem{item(product("x", "1"), 9)}})
	s.Hydrate(ctx)

	st := s.State()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "lamb", st.Items[0].Product.ID)
}

func TestStore_HydrateWithoutSnapshot(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.Hydrate(context.Background())

	st := s.State()
	assert.True(t, st.IsLoaded)
	assert.Empty(t, st.Items)
	assert.True(t, st.Total.IsZero())
}

func TestStore_RejectsNonPositiveAdd(t *testing.T) {
	s, b, _ := newTestStore(t)
	ctx := context.Background()
	s.Hydrate(ctx)

	assert.ErrorIs(t, s.Add(ctx, product("lamb", "8"), 0), ErrInvalidQuantity)
	assert.ErrorIs(t, s.Add(ctx, product("lamb", "8"), -2), ErrInvalidQuantity)
	assert.Zero(t, b.count())
	assert.Empty(t, s.State().Items)
}

func TestStore_StaleWriteIsSkipped(t *testing.T) {
	s, b, a := newTestStore(t)
	ctx := context.Background()
	s.Hydrate(ctx)
	require.NoError(t, s.Add(ctx, product("lamb", "8"), 1))
	require.NoError(t, s.Add(ctx, product("lamb", "8"), 1))
	writes := b.count()

	s.persist(ctx, 1, models.CartSnapshot{})

	assert.Equal(t, writes, b.count())
	require.Len(t, persisted(t, a).Items, 1)
	assert.Equal(t, 2, persisted(t, a).Items[0].Quantity)
}

func TestStore_ConcurrentMutationsEndConsistent(t *testing.T) {
	s, _, a := newTestStore(t)
	ctx := context.Background()
	s.Hydrate(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Add(ctx, product("ribeye", "2"), 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, s.Count())
	snap := persisted(t, a)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 20, snap.Items[0].Quantity)
	assert.True(t, snap.Total.Equal(decimal.RequireFromString("40")))
}
