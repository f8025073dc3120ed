package blocklist_test

import (
	"sync"
	"testing"

	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/domain"
	"github.com/haukened/sgurl/internal/sgurl/repos/blocklist"
	"github.com/haukened/sgurl/internal/sgurl/repos/blocklist/lru"
)

const selfHosted domain.Endpoint = "https://sg.example.com"

func newRepo(t *testing.T, bl domain.Blocklist) blocklist.Repository {
	t.Helper()
	cache, err := lru.New(16)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	return blocklist.NewRepository(domain.CloudEndpoint, bl, cache, log.NewNoopLogger())
}

func TestRepository_Allowed(t *testing.T) {
	r := newRepo(t, domain.Blocklist{Enabled: true, Content: "^foo/"})

	if r.Allowed(domain.CloudEndpoint, "foo/bar") {
		t.Fatal("foo/bar should be blocked on cloud")
	}
	if !r.Allowed(domain.CloudEndpoint, "baz/bar") {
		t.Fatal("baz/bar should be allowed on cloud")
	}
	if !r.Allowed(selfHosted, "foo/bar") {
		t.Fatal("self-hosted must always be allowed")
	}
}

func TestRepository_DecisionsAreCachedAndPurgedOnUpdate(t *testing.T) {
	r := newRepo(t, domain.Blocklist{Enabled: true, Content: "^foo/"})

	if d := r.Decide("foo/bar"); !d.Blocked || d.MatchedPattern != "^foo/" {
		t.Fatalf("unexpected decision %+v", d)
	}
	_ = r.Decide("foo/bar")
	st := r.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Cached != 1 {
		t.Fatalf("expected 1 hit, 1 miss and 1 cached decision, got %+v", st)
	}

	r.Update(domain.Blocklist{Enabled: true, Content: "^baz/"})
	if st := r.Stats(); st.Cached != 0 {
		t.Fatalf("update should purge cached decisions, got %+v", st)
	}
	if r.Decide("foo/bar").Blocked {
		t.Fatal("stale decision served after update")
	}
	if !r.Decide("baz/qux").Blocked {
		t.Fatal("new pattern not applied")
	}
	if got := r.Current(); got.Content != "^baz/" {
		t.Fatalf("Current() = %+v", got)
	}
}

func TestRepository_DisabledNeverBlocks(t *testing.T) {
	r := newRepo(t, domain.Blocklist{Enabled: false, Content: ".*"})
	if r.Decide("anything").Blocked || !r.Allowed(domain.CloudEndpoint, "anything") {
		t.Fatal("disabled blocklist must not block")
	}
	if st := r.Stats(); st.Enabled || st.Hits+st.Misses != 0 {
		t.Fatalf("disabled blocklist should not touch the cache: %+v", st)
	}
}

func TestRepository_InvalidPatternsCounted(t *testing.T) {
	r := newRepo(t, domain.Blocklist{Enabled: true, Content: "(bad\n^ok/\n"})
	st := r.Stats()
	if st.Patterns != 1 || st.Invalid != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if !r.Decide("ok/x").Blocked {
		t.Fatal("valid pattern should still apply")
	}
}

func TestRepository_ConcurrentUpdateAndDecide(t *testing.T) {
	r := newRepo(t, domain.Blocklist{Enabled: true, Content: "^a/"})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Allowed(domain.CloudEndpoint, "a/b")
			}
		}()
		go func(i int) {
			defer wg.Done()
			r.Update(domain.Blocklist{Enabled: i%2 == 0, Content: "^a/"})
		}(i)
	}
	wg.Wait()
}
