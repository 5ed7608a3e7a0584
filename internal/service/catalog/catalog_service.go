package catalog

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// CatalogService catalog read service interface
type CatalogService interface {
	// List all products
	ListProducts(ctx context.Context) ([]*model.Product, error)

	// Get product by ID; returns utils.ErrProductNotFound when absent
	GetProduct(ctx context.Context, id string) (*model.Product, error)

	// WarmUp loads the known id filter from the store
	WarmUp(ctx context.Context) error

	// Invalidate drops cached entries of the given products
	Invalidate(ids ...string)

	// Close releases the cache
	Close() error
}

// catalogService catalog service implementation
type catalogService struct {
	products repository.ProductRepository
	cache    *productCache
	ids      *idFilter
}

// NewCatalogService creates a catalog service
func NewCatalogService(ctx context.Context, products repository.ProductRepository, cacheCfg CacheConfig, bloomCfg BloomConfig) (CatalogService, error) {
	cache, err := newProductCache(ctx, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}

	return &catalogService{
		products: products,
		cache:    cache,
		ids:      newIDFilter(bloomCfg),
	}, nil
}

// ListProducts lists products
func (s *catalogService) ListProducts(ctx context.Context) ([]*model.Product, error) {
	var cached []*model.Product
	if s.cache.get(listKey, &cached) {
		return cached, nil
	}

	products, err := s.products.List(ctx)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to list products")
	}

	s.cache.set(listKey, products)
	return products, nil
}

// GetProduct gets a product
func (s *catalogService) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	if s.ids.unknown(id) {
		return nil, utils.ErrProductNotFound
	}

	var cached model.Product
	if s.cache.get(productKey(id), &cached) {
		return &cached, nil
	}

	product, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, utils.ErrProductNotFound
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to get product")
	}

	s.cache.set(productKey(id), product)
	return product, nil
}

// WarmUp loads all product ids into the filter
func (s *catalogService) WarmUp(ctx context.Context) error {
	if s.ids == nil {
		return nil
	}

	products, err := s.products.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load product ids: %w", err)
	}
	s.ids.load(products)

	log.WithField("products", len(products)).Info("Catalog id filter loaded")
	return nil
}

// Invalidate drops cached entries
func (s *catalogService) Invalidate(ids ...string) {
	s.cache.invalidate(ids...)
}

// Close closes the cache
func (s *catalogService) Close() error {
	return s.cache.close()
}
