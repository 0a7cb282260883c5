package api

import (
	"errors"
	"fmt"

	"github.com/atinyakov/freshtrio/internal/models"
)

// ExchangeRequest is the body of POST /auth/{provider}.
type ExchangeRequest struct {
	IDToken  string `json:"idToken"`
	Provider string `json:"provider"`
}

// BackendUser is the user profile returned with a session.
type BackendUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Role        string `json:"role,omitempty"`
}

// AuthResponse is the session returned by the token exchange.
type AuthResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	User         *BackendUser `json:"user,omitempty"`
}

// Validate requires an access token.
func (r *AuthResponse) Validate() error {
	if r.AccessToken == "" {
		return errors.New("missing accessToken")
	}
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is the body of a successful POST /auth/refresh.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Validate requires an access token.
func (r *RefreshResponse) Validate() error {
	if r.AccessToken == "" {
		return errors.New("missing accessToken")
	}
	return nil
}

// productContract validates a single product.
type productContract models.Product

func (p *productContract) Validate() error {
	return validateProduct(models.Product(*p))
}

func validateProduct(p models.Product) error {
	if p.ID == "" {
		return errors.New("product without id")
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("product %s has negative price", p.ID)
	}
	return nil
}

// pageContract validates every product of a page.
type pageContract models.ProductPage

func (p *pageContract) Validate() error {
	for _, pr := range p.Content {
		if err := validateProduct(pr); err != nil {
			return err
		}
	}
	return nil
}

// orderContract validates a single order.
type orderContract models.Order

func (o *orderContract) Validate() error {
	if o.ID == "" {
		return errors.New("order without id")
	}
	if o.Status == "" {
		return fmt.Errorf("order %s without status", o.ID)
	}
	return nil
}

type ordersContract []models.Order

func (l *ordersContract) Validate() error {
	for i := range *l {
		if err := (*orderContract)(&(*l)[i]).Validate(); err != nil {
			return err
		}
	}
	return nil
}

type trackingContract models.Tracking

func (t *trackingContract) Validate() error {
	if t.Status == "" {
		return errors.New("tracking without status")
	}
	return nil
}

type profileContract models.Profile

func (p *profileContract) Validate() error {
	if p.ID == "" {
		return errors.New("profile without id")
	}
	return nil
}
