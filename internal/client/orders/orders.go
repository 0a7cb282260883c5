// Package orders places orders from the cart and follows them afterwards.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/cart"
	"github.com/atinyakov/freshtrio/internal/models"
)

// DateLayout is the wire format of delivery dates.
const DateLayout = "2006-01-02"

// DefaultPaymentMethod is used when a checkout names none.
const DefaultPaymentMethod = "cash_on_delivery"

var (
	// ErrEmptyCart is returned when checking out an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidCheckout wraps every checkout validation failure.
	ErrInvalidCheckout = errors.New("invalid checkout")
	// ErrNotCancellable is returned for orders past the confirmed state.
	ErrNotCancellable = errors.New("order can no longer be cancelled")
)

// Backend is the order part of the backend API.
type Backend interface {
	Create(ctx context.Context, req models.OrderRequest, idempotencyKey string) (*models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	Track(ctx context.Context, id string) (*models.Tracking, error)
	Cancel(ctx context.Context, id string) (*models.Order, error)
}

// Cart is the cart the service checks out.
type Cart interface {
	State() cart.State
	Clear(ctx context.Context)
}

// Checkout holds the details entered at checkout.
type Checkout struct {
	DeliveryDate        string
	Address             models.Address
	PaymentMethod       string
	SpecialInstructions string
	// IdempotencyKey makes a resubmitted checkout place one order. Empty
	// means a fresh key.
	IdempotencyKey string
}

// Service places and follows orders.
type Service struct {
	backend Backend
	cart    Cart
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now for delivery date checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService returns an order service over backend and c.
func NewService(backend Backend, c Cart, opts ...Option) *Service {
	s := &Service{backend: backend, cart: c, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlaceOrder submits the cart as an order and clears the cart once the
// backend accepted it.
func (s *Service) PlaceOrder(ctx context.Context, co Checkout) (*models.Order, error) {
	st := s.cart.State()
	if len(st.Items) == 0 {
		return nil, ErrEmptyCart
	}
	req, err := s.buildRequest(st, co)
	if err != nil {
		return nil, err
	}

	order, err := s.backend.Create(ctx, req, co.IdempotencyKey)
	if err != nil {
		s.log.Error("order placement failed", zap.Int("lines", len(req.Items)), zap.Error(err))
		return nil, fmt.Errorf("place order: %w", err)
	}
	s.cart.Clear(ctx)
	s.log.Info("order placed", zap.String("order_id", order.ID), zap.String("total", order.TotalAmount.String()))
	return order, nil
}

func (s *Service) buildRequest(st cart.State, co Checkout) (models.OrderRequest, error) {
	now := s.now()
	date, err := time.ParseInLocation(DateLayout, strings.TrimSpace(co.DeliveryDate), now.Location())
	if err != nil {
		return models.OrderRequest{}, fmt.Errorf("%w: delivery date must look like %s", ErrInvalidCheckout, DateLayout)
	}
	y, m, d := now.Date()
	if date.Before(time.Date(y, m, d, 0, 0, 0, 0, now.Location())) {
		return models.OrderRequest{}, fmt.Errorf("%w: delivery date is in the past", ErrInvalidCheckout)
	}
	a := co.Address
	if strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.PostalCode) == "" {
		return models.OrderRequest{}, fmt.Errorf("%w: street, city and postal code are required", ErrInvalidCheckout)
	}

	payment := co.PaymentMethod
	if payment == "" {
		payment = DefaultPaymentMethod
	}
	lines := make([]models.OrderLine, 0, len(st.Items))
	for _, it := range st.Items {
		lines = append(lines, models.OrderLine{
			ProductID: it.Product.ID,
			Quantity:  it.Quantity,
			UnitPrice: it.Product.Price,
		})
	}
	return models.OrderRequest{
		Items:               lines,
		TotalAmount:         st.Total,
		DeliveryDate:        date.Format(DateLayout),
		Address:             a,
		PaymentMethod:       payment,
		SpecialInstructions: co.SpecialInstructions,
	}, nil
}

// List returns the user's orders.
func (s *Service) List(ctx context.Context) ([]models.Order, error) {
	return s.backend.List(ctx)
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.backend.Get(ctx, id)
}

// Track returns the delivery status of an order.
func (s *Service) Track(ctx context.Context, id string) (*models.Tracking, error) {
	return s.backend.Track(ctx, id)
}

// Cancel cancels an order that has not been prepared yet.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, fmt.Errorf("%w: status %s", ErrNotCancellable, order.Status)
	}
	return s.backend.Cancel(ctx, id)
}
