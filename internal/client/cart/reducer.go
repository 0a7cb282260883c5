// Package cart holds the shopping cart: a pure reducer over cart actions
// and a Store that persists the result once it has been hydrated.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/atinyakov/freshtrio/internal/models"
)

// State is the cart contents. Total is always derived from Items.
type State struct {
	Items    []models.CartItem
	Total    decimal.Decimal
	IsLoaded bool
}

// Snapshot returns the persisted form of s.
func (s State) Snapshot() models.CartSnapshot {
	return models.CartSnapshot{Items: cloneItems(s.Items), Total: s.Total}
}

// Action is a cart mutation understood by Reduce.
type Action interface {
	apply(State) State
}

// Add increments the line for Product by Quantity, appending it if absent.
type Add struct {
	Product  models.Product
	Quantity int
}

// Remove drops the line for ProductID.
type Remove struct {
	ProductID string
}

// SetQuantity sets an absolute quantity. Zero or less removes the line.
type SetQuantity struct {
	ProductID string
	Quantity  int
}

// Clear empties the cart.
type Clear struct{}

// Hydrate loads the persisted snapshot. It only takes effect once.
type Hydrate struct {
	Snapshot *models.CartSnapshot
}

// Reduce applies a to s and returns the new state. s is not modified.
func Reduce(s State, a Action) State {
	next := a.apply(State{Items: cloneItems(s.Items), Total: s.Total, IsLoaded: s.IsLoaded})
	next.Total = total(next.Items)
	return next
}

func (a Add) apply(s State) State {
	for i := range s.Items {
		if s.Items[i].Product.ID == a.Product.ID {
			s.Items[i].Quantity += a.Quantity
			return s
		}
	}
	s.Items = append(s.Items, models.CartItem{Product: a.Product, Quantity: a.Quantity})
	return s
}

func (a Remove) apply(s State) State {
	s.Items = without(s.Items, a.ProductID)
	return s
}

func (a SetQuantity) apply(s State) State {
	if a.Quantity <= 0 {
		s.Items = without(s.Items, a.ProductID)
		return s
	}
	for i := range s.Items {
		if s.Items[i].Product.ID == a.ProductID {
			s.Items[i].Quantity = a.Quantity
		}
	}
	return s
}

func (Clear) apply(s State) State {
	s.Items = []models.CartItem{}
	return s
}

func (a Hydrate) apply(s State) State {
	if s.IsLoaded {
		return s
	}
	if a.Snapshot != nil {
		s.Items = mergeDuplicates(a.Snapshot.Items)
	}
	s.IsLoaded = true
	return s
}

func total(items []models.CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

func without(items []models.CartItem, productID string) []models.CartItem {
	out := items[:0]
	for _, it := range items {
		if it.Product.ID != productID {
			out = append(out, it)
		}
	}
	return out
}

// mergeDuplicates keeps one line per product and drops non-positive lines,
// so a hand-edited snapshot cannot break the cart's invariants.
func mergeDuplicates(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if i, ok := index[it.Product.ID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.Product.ID] = len(out)
		out = append(out, it)
	}
	return out
}

func cloneItems(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, len(items))
	copy(out, items)
	return out
}
