package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"storefront/internal/model"
)

// DesignRepository design repository interface
type DesignRepository interface {
	Create(ctx context.Context, design *model.Design) error
	GetByID(ctx context.Context, id string) (*model.Design, error)
	List(ctx context.Context) ([]*model.Design, error)
}

type designRepository struct {
	db *gorm.DB
}

// NewDesignRepository creates a design repository
func NewDesignRepository(db *gorm.DB) DesignRepository {
	return &designRepository{db: db}
}

func (r *designRepository) Create(ctx context.Context, design *model.Design) error {
	return translate(r.db.WithContext(ctx).Create(design).Error)
}

func (r *designRepository) GetByID(ctx context.Context, id string) (*model.Design, error) {
	var design model.Design
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&design).Error
	if err != nil {
		return nil, translate(err)
	}
	return &design, nil
}

func (r *designRepository) List(ctx context.Context) ([]*model.Design, error) {
	var designs []*model.Design
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&designs).Error
	return designs, err
}

type memoryDesignRepository struct {
	mu      sync.RWMutex
	designs map[string]model.Design
}

// NewMemoryDesignRepository creates an in-memory design repository
func NewMemoryDesignRepository() DesignRepository {
	return &memoryDesignRepository{designs: make(map[string]model.Design)}
}

func (r *memoryDesignRepository) Create(_ context.Context, design *model.Design) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.designs[design.ID]; exists {
		return fmt.Errorf("design %s: %w", design.ID, ErrDuplicateKey)
	}
	r.designs[design.ID] = *design
	return nil
}

func (r *memoryDesignRepository) GetByID(_ context.Context, id string) (*model.Design, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.designs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (r *memoryDesignRepository) List(_ context.Context) ([]*model.Design, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	designs := make([]*model.Design, 0, len(r.designs))
	for _, d := range r.designs {
		d := d
		designs = append(designs, &d)
	}
	sort.Slice(designs, func(i, j int) bool { return designs[i].CreatedAt.After(designs[j].CreatedAt) })
	return designs, nil
}
