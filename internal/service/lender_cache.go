// lender_cache.go — LRU-кэш записей кредиторов и продуктов с TTL.
package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/repository"
)

var (
	lenderCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_lender_cache_hits_total",
		Help: "Попадания в кэш кредиторов.",
	})
	lenderCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_lender_cache_misses_total",
		Help: "Промахи кэша кредиторов.",
	})
)

// LenderCache — кэш кредиторов и продуктов перед LenderRepository.
// Записи инвалидируются при изменении через администрирование.
type LenderCache struct {
	lenders  *expirable.LRU[string, model.Lender]
	products *expirable.LRU[string, model.LenderProduct]
}

// NewLenderCache создаёт кэш на size записей каждого вида с временем жизни ttl.
func NewLenderCache(size int, ttl time.Duration) *LenderCache {
	if size <= 0 {
		size = 256
	}
	return &LenderCache{
		lenders:  expirable.NewLRU[string, model.Lender](size, nil, ttl),
		products: expirable.NewLRU[string, model.LenderProduct](size, nil, ttl),
	}
}

// Lender возвращает кредитора из кэша или из репозитория.
// Кэш хранит значения: вызывающий получает собственную копию.
func (c *LenderCache) Lender(ctx context.Context, repo repository.LenderRepository, id string) (*model.Lender, error) {
	if l, ok := c.lenders.Get(id); ok {
		lenderCacheHits.Inc()
		return &l, nil
	}
	lenderCacheMisses.Inc()
	l, err := repo.GetLender(ctx, id)
	if err != nil {
		return nil, err
	}
	c.lenders.Add(id, *l)
	return l, nil
}

// Product возвращает продукт кредитора из кэша или из репозитория.
func (c *LenderCache) Product(ctx context.Context, repo repository.LenderRepository, id string) (*model.LenderProduct, error) {
	if p, ok := c.products.Get(id); ok {
		lenderCacheHits.Inc()
		return &p, nil
	}
	lenderCacheMisses.Inc()
	p, err := repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c.products.Add(id, *p)
	return p, nil
}

// InvalidateLender удаляет кредитора из кэша.
func (c *LenderCache) InvalidateLender(id string) {
	c.lenders.Remove(id)
}

// InvalidateProduct удаляет продукт из кэша.
func (c *LenderCache) InvalidateProduct(id string) {
	c.products.Remove(id)
}
