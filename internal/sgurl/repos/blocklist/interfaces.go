package blocklist

import "github.com/haukened/sgurl/internal/sgurl/domain"

// DecisionCache caches block decisions by repository name with basic metrics.
type DecisionCache interface {
	Get(repo string) (domain.BlockDecision, bool)
	Put(repo string, d domain.BlockDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// Repository answers blocklist questions against the live blocklist.
// Update swaps in a new blocklist and invalidates cached decisions.
type Repository interface {
	Decide(repo string) domain.BlockDecision
	Allowed(endpoint domain.Endpoint, repo string) bool
	Update(bl domain.Blocklist)
	Current() domain.Blocklist
	Stats() Stats
}

// Stats exposes repository-level counters.
type Stats struct {
	Enabled   bool
	Patterns  int    // usable patterns
	Invalid   int    // patterns that failed to compile
	Cached    int    // decisions currently held in the cache
	Hits      uint64 // decision cache hits
	Misses    uint64 // decision cache misses
	Evictions uint64
}
