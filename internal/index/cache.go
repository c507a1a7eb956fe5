package index

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/papyrus-search/papyrus/internal/indexer/merge"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/metrics"
)

// BarrelCache keeps whole barrel files resident with LRU eviction. In-use
// barrels are pinned by reference count and never evicted; concurrent misses
// for the same barrel collapse into a single file read.
type BarrelCache struct {
	dir      string
	capacity int

	mu      sync.Mutex
	order   *list.List // front = most recently used, holds *barrelEntry
	byID    map[int]*list.Element
	loading singleflight.Group

	metrics *metrics.Metrics
}

type barrelEntry struct {
	id   int
	data []byte
	refs int
}

// Handle pins one barrel in the cache until released.
type Handle struct {
	cache *BarrelCache
	entry *barrelEntry
	once  sync.Once
}

// Bytes returns the barrel's contents. The slice is shared and read-only.
func (h *Handle) Bytes() []byte {
	return h.entry.data
}

// Release unpins the barrel. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.cache.mu.Lock()
		h.entry.refs--
		h.cache.mu.Unlock()
	})
}

// NewBarrelCache creates a cache over the barrel files in dir. capacity <= 0
// defaults to 1. Metrics may be nil.
func NewBarrelCache(dir string, capacity int, m *metrics.Metrics) *BarrelCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &BarrelCache{
		dir:      dir,
		capacity: capacity,
		order:    list.New(),
		byID:     make(map[int]*list.Element),
		metrics:  m,
	}
}

// Get returns a pinned handle for the barrel, loading it on miss.
func (c *BarrelCache) Get(barrelID int) (*Handle, error) {
	c.mu.Lock()
	if el, ok := c.byID[barrelID]; ok {
		c.order.MoveToFront(el)
		entry := el.Value.(*barrelEntry)
		entry.refs++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.BarrelCacheHits.Inc()
		}
		return &Handle{cache: c, entry: entry}, nil
	}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.BarrelCacheMisses.Inc()
	}

	v, err, _ := c.loading.Do(strconv.Itoa(barrelID), func() (interface{}, error) {
		path := filepath.Join(c.dir, merge.BarrelName(barrelID))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, apperrors.Newf(apperrors.ErrMissingInput, "barrel %s: %v", path, err)
			}
			return nil, apperrors.Newf(apperrors.ErrIO, "reading barrel %s: %v", path, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data := v.([]byte)

	c.mu.Lock()
	defer c.mu.Unlock()
	// another goroutine may have inserted while we loaded
	if el, ok := c.byID[barrelID]; ok {
		c.order.MoveToFront(el)
		entry := el.Value.(*barrelEntry)
		entry.refs++
		return &Handle{cache: c, entry: entry}, nil
	}
	for c.order.Len() >= c.capacity {
		if !c.evictLocked() {
			break
		}
	}
	entry := &barrelEntry{id: barrelID, data: data, refs: 1}
	c.byID[barrelID] = c.order.PushFront(entry)
	return &Handle{cache: c, entry: entry}, nil
}

// evictLocked removes the least recently used unpinned barrel. Returns false
// when every resident barrel is pinned.
func (c *BarrelCache) evictLocked() bool {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*barrelEntry)
		if entry.refs > 0 {
			continue
		}
		c.order.Remove(el)
		delete(c.byID, entry.id)
		if c.metrics != nil {
			c.metrics.BarrelCacheEvictions.Inc()
		}
		return true
	}
	return false
}

// Preload warms the cache with every listed barrel in parallel.
func (c *BarrelCache) Preload(barrelIDs []int) error {
	var g errgroup.Group
	for _, id := range barrelIDs {
		id := id
		g.Go(func() error {
			h, err := c.Get(id)
			if err != nil {
				return fmt.Errorf("preloading barrel %d: %w", id, err)
			}
			h.Release()
			return nil
		})
	}
	return g.Wait()
}

// Len reports how many barrels are resident.
func (c *BarrelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
