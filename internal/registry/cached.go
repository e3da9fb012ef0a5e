package registry

import (
	"context"
	"time"

	"github.com/zjrosen/arbor/internal/cachemanager"
	"github.com/zjrosen/arbor/internal/log"
)

// DefaultCacheTTL bounds how long a record read stays cached.
const DefaultCacheTTL = 5 * time.Minute

// Cached is a read-through cache in front of another Registry. Writes go to
// the backing registry first and then replace the cached entry, so a Get
// after a successful Put always sees the new record.
type Cached struct {
	backing Registry
	reader  *cachemanager.ReadThroughCache[string, *Record, Key]
}

var _ Registry = (*Cached)(nil)

// NewCached wraps backing. A non-positive ttl disables caching.
func NewCached(backing Registry, ttl time.Duration) *Cached {
	manager := cachemanager.NewInMemoryCacheManager[string, *Record]("registry", ttl, cachemanager.DefaultCleanupInterval)
	load := func(ctx context.Context, k Key) (*Record, error) {
		return backing.Get(ctx, k.Name, k.ChainID)
	}
	return &Cached{
		backing: backing,
		reader:  cachemanager.NewReadThroughCache(manager, Key.String, load, ttl),
	}
}

func (c *Cached) Get(ctx context.Context, name string, chainID uint64) (*Record, error) {
	r, err := c.reader.Get(ctx, Key{Name: name, ChainID: chainID})
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

func (c *Cached) Put(ctx context.Context, record *Record) error {
	if err := c.backing.Put(ctx, record); err != nil {
		if ierr := c.reader.Invalidate(ctx, record.Key()); ierr != nil {
			log.WarnErr(log.CatCache, "Failed to invalidate record", ierr, "key", record.Key().String())
		}
		return err
	}
	c.reader.Prime(ctx, record.Key(), record.Clone())
	return nil
}

func (c *Cached) List(ctx context.Context, chainID uint64) ([]*Record, error) {
	return c.backing.List(ctx, chainID)
}
