package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bits-and-blooms/bloom/v3"

	"storefront/internal/model"
	"storefront/pkg/log"
)

const listKey = "products:all"

// CacheConfig catalog read cache configuration
type CacheConfig struct {
	Enabled     bool
	TTL         time.Duration
	Shards      int
	MaxSizeMB   int
	CleanWindow time.Duration
}

// productCache caches product reads as JSON; a nil cache is a no-op
type productCache struct {
	cache *bigcache.BigCache
}

func newProductCache(ctx context.Context, cfg CacheConfig) (*productCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	bc := bigcache.DefaultConfig(cfg.TTL)
	if cfg.Shards > 0 {
		bc.Shards = cfg.Shards
	}
	if cfg.MaxSizeMB > 0 {
		bc.HardMaxCacheSize = cfg.MaxSizeMB
	}
	if cfg.CleanWindow > 0 {
		bc.CleanWindow = cfg.CleanWindow
	}
	bc.Verbose = false

	cache, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, err
	}
	return &productCache{cache: cache}, nil
}

func productKey(id string) string {
	return "product:" + id
}

func (c *productCache) get(key string, v interface{}) bool {
	if c == nil {
		return false
	}
	data, err := c.cache.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			log.WithError(err).Warn("Catalog cache read failed")
		}
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (c *productCache) set(key string, v interface{}) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(key, data); err != nil {
		log.WithError(err).Warn("Catalog cache write failed")
	}
}

// invalidate drops the given products and the list
func (c *productCache) invalidate(ids ...string) {
	if c == nil {
		return
	}
	_ = c.cache.Delete(listKey)
	for _, id := range ids {
		_ = c.cache.Delete(productKey(id))
	}
}

func (c *productCache) close() error {
	if c == nil {
		return nil
	}
	return c.cache.Close()
}

// BloomConfig known product id filter configuration
type BloomConfig struct {
	Enabled           bool
	ExpectedItems     uint
	FalsePositiveRate float64
}

// idFilter answers "definitely unknown" for product ids without touching the store.
// It is consulted only once loaded so an empty filter never hides products.
type idFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	loaded bool
}

func newIDFilter(cfg BloomConfig) *idFilter {
	if !cfg.Enabled {
		return nil
	}
	n, fp := cfg.ExpectedItems, cfg.FalsePositiveRate
	if n == 0 {
		n = 10000
	}
	if fp <= 0 || fp >= 1 {
		fp = 0.01
	}
	return &idFilter{filter: bloom.NewWithEstimates(n, fp)}
}

func (f *idFilter) load(products []*model.Product) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range products {
		f.filter.AddString(p.ID)
	}
	f.loaded = true
}

// unknown reports true only when id was never added
func (f *idFilter) unknown(id string) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.loaded && !f.filter.TestString(id)
}
