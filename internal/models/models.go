// Package models defines the data exchanged between the storefront client,
// its local storage and the backend API.
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. It is owned by the backend and never mutated
// by the client.
type Product struct {
	// ID is the backend identifier of the product.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Description is the long-form product text.
	Description string `json:"description,omitempty"`
	// Price is the unit price in the store currency.
	Price decimal.Decimal `json:"price"`
	// ImageURL references the product picture.
	ImageURL string `json:"imageUrl,omitempty"`
	// Category is the catalog category tag ("beef", "lamb", ...).
	Category string `json:"category,omitempty"`
	// Unit is the unit-of-sale label ("kg", "piece", ...).
	Unit string `json:"unit,omitempty"`
}

// CartItem pairs a product snapshot with a positive quantity.
type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Subtotal returns price × quantity.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartSnapshot is the persisted form of a cart.
type CartSnapshot struct {
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// ProductPage is one page of catalog results.
type ProductPage struct {
	Content       []Product `json:"content"`
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
	Number        int       `json:"number"`
	Size          int       `json:"size"`
}

// TokenSet is the backend session credential pair.
type TokenSet struct {
	// AccessToken is the short-lived bearer token. Required.
	AccessToken string
	// RefreshToken is the longer-lived token used to obtain a new pair.
	RefreshToken string
	// ExpiresAt is the access token expiry, if known.
	ExpiresAt *time.Time
	// TokenType is usually "Bearer".
	TokenType string
}

// Role is the backend authorization role of a user.
type Role string

const (
	// RoleCustomer is the default shopper role.
	RoleCustomer Role = "customer"
	// RoleDriver is a delivery driver.
	RoleDriver Role = "driver"
	// RoleAdmin is a store administrator.
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a backend role string. Unknown or empty values map
// to RoleCustomer.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDriver:
		return RoleDriver
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleCustomer
	}
}

// User is the normalized identity record kept for the signed-in user.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Role        Role   `json:"role"`
	// Provider is the identity provider tag ("password", "google.com").
	Provider string `json:"provider"`
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderPrepared       OrderStatus = "prepared"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
)

// Cancellable reports whether an order in this status can still be cancelled.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderConfirmed
}

// Address is a delivery address.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

// OrderItem is one line of a placed order.
type OrderItem struct {
	Product   Product         `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Order is a placed order as returned by the backend.
type Order struct {
	ID                  string          `json:"id"`
	Items               []OrderItem     `json:"items"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
	Status              OrderStatus     `json:"status"`
	DeliveryDate        string          `json:"deliveryDate"`
	Address             *Address        `json:"address,omitempty"`
	PaymentMethod       string          `json:"paymentMethod,omitempty"`
	PaymentStatus       string          `json:"paymentStatus,omitempty"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// OrderLine is one requested line of a new order.
type OrderLine struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// MarshalJSON writes the unit price as a JSON number, the form the
// backend's BigDecimal fields expect.
func (l OrderLine) MarshalJSON() ([]byte, error) {
	type line OrderLine
	return json.Marshal(struct {
		line
		UnitPrice json.Number `json:"unitPrice"`
	}{line(l), json.Number(l.UnitPrice.String())})
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	Items               []OrderLine     `json:"items"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
	DeliveryDate        string          `json:"deliveryDate"`
	Address             Address         `json:"address"`
	PaymentMethod       string          `json:"paymentMethod"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
}

// MarshalJSON writes the total as a JSON number.
func (r OrderRequest) MarshalJSON() ([]byte, error) {
	type request OrderRequest
	return json.Marshal(struct {
		request
		TotalAmount json.Number `json:"totalAmount"`
	}{request(r), json.Number(r.TotalAmount.String())})
}

// Tracking is the live delivery status of an order.
type Tracking struct {
	OrderID          string      `json:"orderId"`
	Status           OrderStatus `json:"status"`
	Latitude         *float64    `json:"latitude,omitempty"`
	Longitude        *float64    `json:"longitude,omitempty"`
	EstimatedArrival *time.Time  `json:"estimatedArrival,omitempty"`
}

// Profile is the backend user profile.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	Role      string `json:"role"`
}

// DisplayName joins first and last name.
func (p Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ProfileUpdate is the body of PUT /users/profile. Empty fields are left unchanged.
type ProfileUpdate struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}
