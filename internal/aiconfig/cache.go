package aiconfig

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"predmarket/internal/repository"
)

const DefaultTTL = 5 * time.Minute

// Cache is the process-local view of AIConfig with a bounded staleness
// window. Expiry triggers a synchronous reload; a failed reload logs and
// serves the compiled-in defaults rather than failing the caller. The clock
// is injected so tests control expiry deterministically.
type Cache struct {
	Repo   repository.Repository
	Logger *zap.Logger
	TTL    time.Duration
	Now    func() time.Time

	mu       sync.RWMutex
	current  AIConfig
	loadedAt time.Time
}

func NewCache(repo repository.Repository, logger *zap.Logger) *Cache {
	return &Cache{
		Repo:   repo,
		Logger: logger,
		TTL:    DefaultTTL,
		Now:    time.Now,
	}
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}

// Get returns the cached config, reloading from the store if the TTL has
// lapsed since the last successful load.
func (c *Cache) Get(ctx context.Context) AIConfig {
	c.mu.RLock()
	fresh := !c.loadedAt.IsZero() && c.now().Sub(c.loadedAt) < c.ttl()
	cfg := c.current
	c.mu.RUnlock()
	if fresh {
		return cfg
	}
	if err := c.Refresh(ctx); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("ai config reload failed, serving defaults", zap.Error(err))
		}
		return Defaults()
	}
	c.mu.RLock()
	cfg = c.current
	c.mu.RUnlock()
	return cfg
}

// Refresh loads all key/value rows and merges them over defaults.
func (c *Cache) Refresh(ctx context.Context) error {
	if c == nil || c.Repo == nil {
		return nil
	}
	rows, err := c.Repo.ListPipelineSettings(ctx)
	if err != nil {
		return err
	}
	cfg := Defaults()
	for _, row := range rows {
		applyKey(&cfg, row.Key, row.Value)
	}
	c.mu.Lock()
	c.current = cfg
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

// Invalidate drops the cached value; the next Get reloads synchronously.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}
