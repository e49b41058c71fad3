package service

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smallbiznis/coinpulse/internal/config"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	"go.uber.org/zap"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 30 * time.Second
)

// CachedResolver keeps the static part of recent resolutions (identity,
// location, default value, currency) in an expiring LRU. Status and the
// active flag are read from the store on every call, so a machine taken out
// of service stops accepting events immediately. Errors are never cached.
type CachedResolver struct {
	next    machinedomain.Resolver
	repo    machinedomain.Repository
	timeout time.Duration
	log     *zap.Logger
	cache   *expirable.LRU[string, *machinedomain.ResolvedMachine]
}

func NewCachedResolver(next machinedomain.Resolver, repo machinedomain.Repository, cfg config.Config, log *zap.Logger) machinedomain.Resolver {
	size := cfg.Machine.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.Machine.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedResolver{
		next:    next,
		repo:    repo,
		timeout: lookupTimeout(cfg.Ingest.MachineLookupTimeout),
		log:     log.Named("machine.cache"),
		cache:   expirable.NewLRU[string, *machinedomain.ResolvedMachine](size, nil, ttl),
	}
}

func (c *CachedResolver) ResolveMachine(ctx context.Context, idOrCode string) (*machinedomain.ResolvedMachine, error) {
	key := strings.TrimSpace(idOrCode)
	if m, ok := c.cache.Get(key); ok {
		return c.refresh(ctx, key, m)
	}

	m, err := c.next.ResolveMachine(ctx, key)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, m)
	c.cache.Add(m.ID.String(), m)
	c.cache.Add(m.Code, m)
	return m, nil
}

// refresh overlays the current status on a cached snapshot. The cached entry
// itself is never mutated.
func (c *CachedResolver) refresh(ctx context.Context, key string, m *machinedomain.ResolvedMachine) (*machinedomain.ResolvedMachine, error) {
	var st *machinedomain.State
	err := withLookupTimeout(ctx, c.timeout, c.log, key, func(ctx context.Context) error {
		var err error
		st, err = c.repo.FindState(ctx, m.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if st == nil || !st.Active {
		c.evict(key, m)
		return nil, machinedomain.ErrMachineNotFound
	}
	return m.WithState(*st), nil
}

func (c *CachedResolver) evict(key string, m *machinedomain.ResolvedMachine) {
	c.cache.Remove(key)
	c.cache.Remove(m.ID.String())
	c.cache.Remove(m.Code)
}
