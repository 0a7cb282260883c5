package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/atinyakov/freshtrio/internal/models"
)

// AuthAPI groups the session endpoints.
type AuthAPI struct{ c *Client }

// Exchange trades a provider ID token for a backend session. provider is the
// backend tag ("firebase" or "google").
func (a *AuthAPI) Exchange(ctx context.Context, idToken, provider string) (*AuthResponse, error) {
	var out AuthResponse
	err := a.c.Do(ctx, http.MethodPost, "/auth/"+url.PathEscape(provider),
		ExchangeRequest{IDToken: idToken, Provider: provider}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout tells the backend the session ended.
func (a *AuthAPI) Logout(ctx context.Context) error {
	return a.c.Do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// ProductsAPI groups the read-only catalog endpoints.
type ProductsAPI struct{ c *Client }

// ListParams filters and pages a product listing. Zero values are omitted.
type ListParams struct {
	Category string
	Page     int
	Size     int
}

func (p ListParams) values() url.Values {
	q := url.Values{}
	if p.Category != "" {
		q.Set("category", p.Category)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Size > 0 {
		q.Set("size", strconv.Itoa(p.Size))
	}
	return q
}

// List returns one page of products.
func (p *ProductsAPI) List(ctx context.Context, params ListParams) (*models.ProductPage, error) {
	var out pageContract
	if err := p.c.Do(ctx, http.MethodGet, "/products", nil, &out, WithQuery(params.values())); err != nil {
		return nil, err
	}
	page := models.ProductPage(out)
	return &page, nil
}

// Get returns one product.
func (p *ProductsAPI) Get(ctx context.Context, id string) (*models.Product, error) {
	var out productContract
	if err := p.c.Do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	pr := models.Product(out)
	return &pr, nil
}

// Categories returns every category tag.
func (p *ProductsAPI) Categories(ctx context.Context) ([]string, error) {
	var out []string
	if err := p.c.Do(ctx, http.MethodGet, "/products/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns products matching q.
func (p *ProductsAPI) Search(ctx context.Context, q string, params ListParams) (*models.ProductPage, error) {
	query := params.values()
	query.Set("q", q)
	var out pageContract
	if err := p.c.Do(ctx, http.MethodGet, "/products/search", nil, &out, WithQuery(query)); err != nil {
		return nil, err
	}
	page := models.ProductPage(out)
	return &page, nil
}

// OrdersAPI groups the order lifecycle endpoints.
type OrdersAPI struct{ c *Client }

// Create places an order. idempotencyKey deduplicates resubmissions; empty
// means a fresh key.
func (o *OrdersAPI) Create(ctx context.Context, req models.OrderRequest, idempotencyKey string) (*models.Order, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	var out orderContract
	if err := o.c.Do(ctx, http.MethodPost, "/orders", req, &out, WithHeader("Idempotency-Key", idempotencyKey)); err != nil {
		return nil, err
	}
	order := models.Order(out)
	return &order, nil
}

// List returns the signed-in user's orders.
func (o *OrdersAPI) List(ctx context.Context) ([]models.Order, error) {
	var out ordersContract
	if err := o.c.Do(ctx, http.MethodGet, "/orders", nil, &out); err != nil {
		return nil, err
	}
	return []models.Order(out), nil
}

// Get returns one order.
func (o *OrdersAPI) Get(ctx context.Context, id string) (*models.Order, error) {
	var out orderContract
	if err := o.c.Do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	order := models.Order(out)
	return &order, nil
}

// Track returns the delivery status of an order.
func (o *OrdersAPI) Track(ctx context.Context, id string) (*models.Tracking, error) {
	var out trackingContract
	if err := o.c.Do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id)+"/track", nil, &out); err != nil {
		return nil, err
	}
	tr := models.Tracking(out)
	return &tr, nil
}

// Cancel cancels an order and returns its new state.
func (o *OrdersAPI) Cancel(ctx context.Context, id string) (*models.Order, error) {
	var out orderContract
	if err := o.c.Do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	order := models.Order(out)
	return &order, nil
}

// UsersAPI groups the profile endpoints.
type UsersAPI struct{ c *Client }

// Profile returns the signed-in user's profile.
func (u *UsersAPI) Profile(ctx context.Context) (*models.Profile, error) {
	var out profileContract
	if err := u.c.Do(ctx, http.MethodGet, "/users/profile", nil, &out); err != nil {
		return nil, err
	}
	p := models.Profile(out)
	return &p, nil
}

// UpdateProfile applies upd and returns the stored profile.
func (u *UsersAPI) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	var out profileContract
	if err := u.c.Do(ctx, http.MethodPut, "/users/profile", upd, &out); err != nil {
		return nil, err
	}
	p := models.Profile(out)
	return &p, nil
}

// DeleteAccount removes the backend account.
func (u *UsersAPI) DeleteAccount(ctx context.Context) error {
	return u.c.Do(ctx, http.MethodDelete, "/users/profile", nil, nil)
}
