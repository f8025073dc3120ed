package blocklist

import (
	"sync"

	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/domain"
	"github.com/haukened/sgurl/internal/sgurl/services/resolver"
)

// repository composes a compiled blocklist with a DecisionCache. Reads go
// cache → compiled patterns; Update swaps the compiled set and purges the cache under lock.
type repository struct {
	mu       sync.RWMutex
	cloud    domain.Endpoint
	source   domain.Blocklist
	compiled domain.CompiledBlocklist
	invalid  int
	cache    DecisionCache
	logger   log.Logger
}

// NewRepository constructs a Repository for the given cloud endpoint, seeded with bl.
func NewRepository(cloud domain.Endpoint, bl domain.Blocklist, cache DecisionCache, logger log.Logger) Repository {
	r := &repository{cloud: cloud, cache: cache, logger: log.OrNoop(logger)}
	r.Update(bl)
	return r
}

// Decide returns the block decision for repo. A disabled blocklist never blocks
// and does not touch the cache.
func (r *repository) Decide(repo string) domain.BlockDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.compiled.Enabled() {
		return domain.EmptyDecision()
	}
	if d, ok := r.cache.Get(repo); ok {
		return d
	}
	d := r.compiled.Decide(repo)
	r.cache.Put(repo, d)
	return d
}

// Allowed reports whether repo may be looked up at endpoint.
// Non-cloud endpoints are always allowed.
func (r *repository) Allowed(endpoint domain.Endpoint, repo string) bool {
	if endpoint != r.cloud {
		return true
	}
	return !r.Decide(repo).Blocked
}

// Update recompiles bl and atomically replaces the active blocklist.
// Invalid patterns are logged and skipped.
func (r *repository) Update(bl domain.Blocklist) {
	compiled, bad := bl.Compile()
	for _, pe := range bad {
		r.logger.Warn(map[string]any{"pattern": pe.Pattern, "error": pe.Err}, "Skipping invalid blocklist pattern")
	}

	r.mu.Lock()
	r.source = bl
	r.compiled = compiled
	r.invalid = len(bad)
	r.cache.Purge()
	r.mu.Unlock()

	r.logger.Debug(map[string]any{"enabled": bl.Enabled, "patterns": compiled.Len(), "invalid": len(bad)}, "blocklist_updated")
}

// Current returns the blocklist as last given to Update.
func (r *repository) Current() domain.Blocklist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

func (r *repository) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hits, misses, evictions := r.cache.Stats()
	return Stats{
		Enabled:   r.compiled.Enabled(),
		Patterns:  r.compiled.Len(),
		Invalid:   r.invalid,
		Cached:    r.cache.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
	}
}

var _ resolver.Blocklist = (*repository)(nil)
