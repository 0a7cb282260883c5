package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/storage"
	"github.com/atinyakov/freshtrio/internal/models"
)

// KeyState is the general-tier key of the persisted cart.
const KeyState = "cart_state"

// ErrInvalidQuantity is returned when adding a non-positive quantity.
var ErrInvalidQuantity = errors.New("quantity must be a positive integer")

// Store is the process-wide cart. Mutations are serialized; every mutation
// after hydration persists the new snapshot.
type Store struct {
	store *storage.Adapter
	log   *zap.Logger

	mu      sync.Mutex
	state   State
	version uint64

	writeMu sync.Mutex
	written uint64
}

// NewStore returns an empty, not yet hydrated cart backed by the general
// storage tier.
func NewStore(general *storage.Adapter, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		store: general,
		log:   log,
		state: State{Items: []models.CartItem{}, Total: decimal.Zero},
	}
}

// Hydrate loads the persisted cart. Only the first call has any effect.
func (s *Store) Hydrate(ctx context.Context) {
	s.mu.Lock()
	loaded := s.state.IsLoaded
	s.mu.Unlock()
	if loaded {
		return
	}
	snap, _ := storage.GetObject[models.CartSnapshot](ctx, s.store, KeyState)
	s.dispatch(ctx, Hydrate{Snapshot: snap})
}

// Add puts quantity units of p into the cart.
func (s *Store) Add(ctx context.Context, p models.Product, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	s.dispatch(ctx, Add{Product: p, Quantity: quantity})
	return nil
}

// Remove drops the line for productID, if any.
func (s *Store) Remove(ctx context.Context, productID string) {
	s.dispatch(ctx, Remove{ProductID: productID})
}

// UpdateQuantity sets the quantity of productID. Zero or less removes it.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) {
	s.dispatch(ctx, SetQuantity{ProductID: productID, Quantity: quantity})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) {
	s.dispatch(ctx, Clear{})
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Items: cloneItems(s.state.Items), Total: s.state.Total, IsLoaded: s.state.IsLoaded}
}

// Count returns the number of units in the cart.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.state.Items {
		n += it.Quantity
	}
	return n
}

func (s *Store) dispatch(ctx context.Context, a Action) {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	if _, hydrating := a.(Hydrate); hydrating || !s.state.IsLoaded {
		s.mu.Unlock()
		return
	}
	s.version++
	v := s.version
	snap := s.state.Snapshot()
	s.mu.Unlock()

	s.persist(ctx, v, snap)
}

// persist writes snap unless a newer version has already been written.
func (s *Store) persist(ctx context.Context, v uint64, snap models.CartSnapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if v <= s.written {
		s.log.Debug("skipping stale cart write", zap.Uint64("version", v), zap.Uint64("written", s.written))
		return
	}
	storage.SetObject(ctx, s.store, KeyState, snap)
	s.written = v
}
