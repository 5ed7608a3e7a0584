package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
)

// SeedConfig demo data configuration
type SeedConfig struct {
	Enabled  bool
	Count    int
	RandSeed int64
}

// DemoProducts generates count deterministic demo products; only ids are random
func DemoProducts(count int, seed int64) []*model.Product {
	rnd := rand.New(rand.NewSource(seed))
	products := make([]*model.Product, 0, count)

	for i := 1; i <= count; i++ {
		category := model.CategoryWomen
		if i%2 == 0 {
			category = model.CategoryMen
		}

		price := decimal.NewFromFloat(rnd.Float64()*40 + 10).Round(2)
		stock := 10 + rnd.Intn(190)

		products = append(products, &model.Product{
			ID:          strings.ReplaceAll(uuid.NewString(), "-", ""),
			Name:        fmt.Sprintf("Product #%d", i),
			Description: "Demo product seeded into DB",
			Price:       price,
			Category:    category,
			Stock:       stock,
		})
	}
	return products
}

// Seed inserts demo products when the store is empty and returns how many were created
func Seed(ctx context.Context, repo repository.ProductRepository, cfg SeedConfig) (int, error) {
	if !cfg.Enabled || cfg.Count <= 0 {
		return 0, nil
	}

	count, err := repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if count > 0 {
		log.WithField("products", count).Info("Catalog already seeded")
		return 0, nil
	}

	products := DemoProducts(cfg.Count, cfg.RandSeed)
	if err := repo.CreateBatch(ctx, products); err != nil {
		return 0, fmt.Errorf("seed products: %w", err)
	}

	log.WithField("products", len(products)).Info("Catalog seeded with demo products")
	return len(products), nil
}
