// Package catalog reads products and categories from the backend.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atinyakov/freshtrio/internal/client/api"
	"github.com/atinyakov/freshtrio/internal/models"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 20

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("search query is empty")

// Products is the catalog part of the backend API.
type Products interface {
	List(ctx context.Context, params api.ListParams) (*models.ProductPage, error)
	Get(ctx context.Context, id string) (*models.Product, error)
	Categories(ctx context.Context) ([]string, error)
	Search(ctx context.Context, q string, params api.ListParams) (*models.ProductPage, error)
}

// Home is the landing view: the first product page and every category.
type Home struct {
	Products   *models.ProductPage
	Categories []string
}

// Service serves catalog views.
type Service struct {
	products Products
	pageSize int
	log      *zap.Logger
}

// NewService returns a catalog service. pageSize <= 0 means DefaultPageSize.
func NewService(products Products, pageSize int, log *zap.Logger) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{products: products, pageSize: pageSize, log: log}
}

// Home loads the first product page and the category list concurrently.
func (s *Service) Home(ctx context.Context) (*Home, error) {
	var home Home
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := s.products.List(gctx, api.ListParams{Size: s.pageSize})
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		home.Products = page
		return nil
	})
	g.Go(func() error {
		cats, err := s.products.Categories(gctx)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		home.Categories = cats
		return nil
	})
	if err := g.Wait(); err != nil {
		s.log.Warn("home view failed", zap.Error(err))
		return nil, err
	}
	return &home, nil
}

// Search returns page (zero-based) of products matching q.
func (s *Service) Search(ctx context.Context, q string, page int) (*models.ProductPage, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	return s.products.Search(ctx, q, api.ListParams{Page: page, Size: s.pageSize})
}

// ByCategory returns page (zero-based) of products in category.
func (s *Service) ByCategory(ctx context.Context, category string, page int) (*models.ProductPage, error) {
	return s.products.List(ctx, api.ListParams{Category: category, Page: page, Size: s.pageSize})
}

// Product returns one product.
func (s *Service) Product(ctx context.Context, id string) (*models.Product, error) {
	return s.products.Get(ctx, id)
}
