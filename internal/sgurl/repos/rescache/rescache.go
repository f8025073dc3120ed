package rescache

import (
	"fmt"
	"sync"
	"sync/atomic"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/domain"
	"github.com/haukened/sgurl/internal/sgurl/services/resolver"
)

const minBloomCapacity = 1024

// Backend is the persistent layer behind the cache.
type Backend interface {
	GetResolution(repo string) (domain.Resolution, bool, error)
	PutResolution(res domain.Resolution) error
	VisitResolutions(visit func(repo string) bool) error
	CountResolutions() (int, error)
}

// Options configures a Cache.
type Options struct {
	// Size is the LRU capacity in front of the backend. Zero disables the front cache.
	Size int
	// FPRate is the bloom filter's target false-positive rate. Defaults to 0.01.
	FPRate float64
	Logger log.Logger
}

// Stats reports cache counters.
type Stats struct {
	Entries    int    // persisted resolutions
	FrontHits  uint64 // served from the LRU
	BloomSkips uint64 // misses answered by the bloom filter without touching the backend
	DiskReads  uint64 // backend lookups
	DiskHits   uint64 // backend lookups that found an entry
}

// Cache is a read-through resolution cache. Lookups go LRU → bloom → backend.
// The bloom filter has no false negatives, so a negative answer safely skips the backend.
// Entries are never evicted from the backend.
type Cache struct {
	backend Backend
	front   *lru.Cache[string, domain.Resolution]
	logger  log.Logger
	fpRate  float64

	mu       sync.Mutex
	bloom    *bitsbloom.BloomFilter
	capacity uint
	count    uint

	frontHits  atomic.Uint64
	bloomSkips atomic.Uint64
	diskReads  atomic.Uint64
	diskHits   atomic.Uint64
}

// New builds a Cache over backend and warms the bloom filter from the persisted keys.
func New(backend Backend, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("rescache: backend is required")
	}
	if opts.FPRate <= 0 || opts.FPRate >= 1 {
		opts.FPRate = 0.01
	}
	c := &Cache{
		backend: backend,
		logger:  log.OrNoop(opts.Logger),
		fpRate:  opts.FPRate,
	}
	if opts.Size > 0 {
		front, err := lru.New[string, domain.Resolution](opts.Size)
		if err != nil {
			return nil, fmt.Errorf("rescache: %w", err)
		}
		c.front = front
	}
	if err := c.rebuildBloom(); err != nil {
		return nil, err
	}
	return c, nil
}

// rebuildBloom sizes a fresh filter for twice the persisted entry count and loads every key.
// It holds the lock throughout so a concurrent Remember lands in the new filter.
func (c *Cache) rebuildBloom() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.backend.CountResolutions()
	if err != nil {
		return fmt.Errorf("rescache: count resolutions: %w", err)
	}
	capacity := uint(n) * 2
	if capacity < minBloomCapacity {
		capacity = minBloomCapacity
	}
	bf := bitsbloom.NewWithEstimates(capacity, c.fpRate)
	var loaded uint
	if err := c.backend.VisitResolutions(func(repo string) bool {
		bf.AddString(repo)
		loaded++
		return true
	}); err != nil {
		return fmt.Errorf("rescache: load keys: %w", err)
	}

	c.bloom = bf
	c.capacity = capacity
	c.count = loaded

	c.logger.Debug(map[string]any{"entries": loaded, "capacity": capacity, "fp_rate": c.fpRate}, "bloom_rebuilt")
	return nil
}

func (c *Cache) mightContain(repo string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bloom.TestString(repo)
}

// Lookup returns the cached resolution for repo. Backend read errors are logged
// and reported as a miss so that callers fall back to probing.
func (c *Cache) Lookup(repo string) (domain.Resolution, bool) {
	if c.front != nil {
		if res, ok := c.front.Get(repo); ok {
			c.frontHits.Add(1)
			return res, true
		}
	}
	if !c.mightContain(repo) {
		c.bloomSkips.Add(1)
		return domain.Resolution{}, false
	}

	c.diskReads.Add(1)
	res, ok, err := c.backend.GetResolution(repo)
	if err != nil {
		c.logger.Warn(map[string]any{"repo": repo, "error": err}, "Resolution cache read failed")
		return domain.Resolution{}, false
	}
	if !ok {
		return domain.Resolution{}, false
	}
	c.diskHits.Add(1)
	if c.front != nil {
		c.front.Add(repo, res)
	}
	return res, true
}

// Remember persists res and makes it visible to subsequent lookups.
// The in-memory layers are only updated once the backend write succeeds.
func (c *Cache) Remember(res domain.Resolution) error {
	if err := c.backend.PutResolution(res); err != nil {
		return fmt.Errorf("rescache: persist %s: %w", res.Repo, err)
	}
	if c.front != nil {
		c.front.Add(res.Repo, res)
	}

	c.mu.Lock()
	c.bloom.AddString(res.Repo)
	c.count++
	full := c.count > c.capacity
	c.mu.Unlock()

	if full && c.overCapacity() {
		if err := c.rebuildBloom(); err != nil {
			// The old filter still has every key; only its FP rate degrades.
			c.logger.Warn(map[string]any{"error": err}, "Bloom filter rebuild failed")
		}
	}
	return nil
}

// overCapacity reconciles count with the backend. Overwrites of an existing repo
// increment count without adding an entry.
func (c *Cache) overCapacity() bool {
	n, err := c.backend.CountResolutions()
	if err != nil {
		c.logger.Warn(map[string]any{"error": err}, "Resolution count failed")
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint(n) <= c.capacity {
		c.count = uint(n)
		return false
	}
	return true
}

// Len returns the number of persisted resolutions.
func (c *Cache) Len() int {
	n, err := c.backend.CountResolutions()
	if err != nil {
		c.logger.Warn(map[string]any{"error": err}, "Resolution count failed")
		return 0
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:    c.Len(),
		FrontHits:  c.frontHits.Load(),
		BloomSkips: c.bloomSkips.Load(),
		DiskReads:  c.diskReads.Load(),
		DiskHits:   c.diskHits.Load(),
	}
}

var _ resolver.ResolutionCache = (*Cache)(nil)
