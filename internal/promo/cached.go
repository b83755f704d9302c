package promo

import (
	"context"
	"strings"

	"github.com/techturf/marketplace/internal/cache"
)

// CachedRepo layers the TTL cache over code lookups. Every admin write purges
// the cache, so a deactivated or deleted promo stops granting discounts
// immediately instead of lingering until the TTL expires.
type CachedRepo struct {
	Repository
	cache *cache.TTL[string, *Promo]
}

func NewCachedRepo(repo Repository, c *cache.TTL[string, *Promo]) *CachedRepo {
	return &CachedRepo{Repository: repo, cache: c}
}

func cacheKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *CachedRepo) GetByCode(ctx context.Context, code string) (*Promo, error) {
	key := cacheKey(code)
	if p, ok := r.cache.Get(key); ok {
		cp := *p
		return &cp, nil
	}
	p, err := r.Repository.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, p)
	cp := *p
	return &cp, nil
}

func (r *CachedRepo) Create(ctx context.Context, p *Promo) error {
	if err := r.Repository.Create(ctx, p); err != nil {
		return err
	}
	r.cache.Delete(cacheKey(p.Code))
	return nil
}

// Update purges the whole cache: it is keyed by code while updates address
// promos by id, and admin writes are rare enough that a full purge is cheaper
// than a lookup.
func (r *CachedRepo) Update(ctx context.Context, p *Promo, updateActive bool) error {
	if err := r.Repository.Update(ctx, p, updateActive); err != nil {
		return err
	}
	r.cache.Purge()
	return nil
}

func (r *CachedRepo) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := r.Repository.Delete(ctx, id)
	if err == nil && ok {
		r.cache.Purge()
	}
	return ok, err
}
