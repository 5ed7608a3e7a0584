package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"storefront/internal/model"
)

// ProductRepository product repository interface
type ProductRepository interface {
	// List all products ordered by name
	List(ctx context.Context) ([]*model.Product, error)

	// Get product by ID
	GetByID(ctx context.Context, id string) (*model.Product, error)

	// Get products by IDs; missing ids are absent from the result
	GetByIDs(ctx context.Context, ids []string) (map[string]*model.Product, error)

	// Count products
	Count(ctx context.Context) (int64, error)

	// Create products in batches
	CreateBatch(ctx context.Context, products []*model.Product) error

	// Reserve decrements every product by its quantity or none at all.
	// Returns ErrInsufficientStock when any row lacks stock.
	Reserve(ctx context.Context, quantities map[string]int) error
}

// productRepository product repository implementation
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// List lists products
func (r *productRepository) List(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).Order("name ASC").Find(&products).Error
	return products, err
}

// GetByID gets a product by ID
func (r *productRepository) GetByID(ctx context.Context, id string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

// GetByIDs gets products by IDs
func (r *productRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Product, error) {
	result := make(map[string]*model.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var products []*model.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

// Count counts products
func (r *productRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).Count(&count).Error
	return count, err
}

// CreateBatch creates products
func (r *productRepository) CreateBatch(ctx context.Context, products []*model.Product) error {
	if len(products) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).CreateInBatches(products, 100).Error)
}

// Reserve decrements stock for every product in one transaction (row-atomic conditional updates)
func (r *productRepository) Reserve(ctx context.Context, quantities map[string]int) error {
	if len(quantities) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range sortedKeys(quantities) {
			qty := quantities[id]
			result := tx.Model(&model.Product{}).
				Where("id = ? AND stock >= ?", id, qty).
				Update("stock", gorm.Expr("stock - ?", qty))

			if result.Error != nil {
				return fmt.Errorf("decrement stock of %s: %w", id, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("product %s: %w", id, ErrInsufficientStock)
			}
		}
		return nil
	})
}

// memoryProductRepository in-memory product repository
type memoryProductRepository struct {
	mu       sync.RWMutex
	products map[string]model.Product
}

// NewMemoryProductRepository creates an in-memory product repository
func NewMemoryProductRepository() ProductRepository {
	return &memoryProductRepository{products: make(map[string]model.Product)}
}

func (r *memoryProductRepository) List(_ context.Context) ([]*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products := make([]*model.Product, 0, len(r.products))
	for _, p := range r.products {
		p := p
		products = append(products, &p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (r *memoryProductRepository) GetByID(_ context.Context, id string) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *memoryProductRepository) GetByIDs(_ context.Context, ids []string) (map[string]*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			p := p
			result[id] = &p
		}
	}
	return result, nil
}

func (r *memoryProductRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.products)), nil
}

func (r *memoryProductRepository) CreateBatch(_ context.Context, products []*model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range products {
		if _, exists := r.products[p.ID]; exists {
			return fmt.Errorf("product %s: %w", p.ID, ErrDuplicateKey)
		}
	}
	for _, p := range products {
		r.products[p.ID] = *p
	}
	return nil
}

// Reserve validates and decrements under one lock
func (r *memoryProductRepository) Reserve(_ context.Context, quantities map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range sortedKeys(quantities) {
		p, ok := r.products[id]
		if !ok || p.Stock < quantities[id] {
			return fmt.Errorf("product %s: %w", id, ErrInsufficientStock)
		}
	}
	for id, qty := range quantities {
		p := r.products[id]
		p.Stock -= qty
		r.products[id] = p
	}
	return nil
}
