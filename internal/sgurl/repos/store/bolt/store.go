package bolt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/domain"
	"github.com/haukened/sgurl/internal/sgurl/services/resolver"
)

var (
	bucketSettings    = []byte("settings")
	bucketResolutions = []byte("resolutions")

	keySelfHosted = []byte("self_hosted")
	keyBlocklist  = []byte("blocklist")
)

// bucketCreator is the subset of *bbolt.Tx used to create buckets; swapped in tests.
type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

var ensureBucketsFn = func(tx bucketCreator) error {
	for _, b := range [][]byte{bucketSettings, bucketResolutions} {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return fmt.Errorf("create bucket %s: %w", b, err)
		}
	}
	return nil
}

// Store persists settings and resolutions in a single bbolt file and notifies
// subscribers of every settings change.
type Store struct {
	db     *bbolt.DB
	logger log.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]func(domain.Settings)
}

// Open opens (or creates) the database at path and ensures buckets exist.
func Open(path string, logger log.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error { return ensureBucketsFn(tx) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:     db,
		logger: log.OrNoop(logger),
		subs:   make(map[int]func(domain.Settings)),
	}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.db.Path() }

// Settings reads the current settings. Missing keys yield their zero values.
func (s *Store) Settings() (domain.Settings, error) {
	var out domain.Settings
	err := s.db.View(func(tx *bbolt.Tx) error {
		return readSettings(tx.Bucket(bucketSettings), &out)
	})
	return out, err
}

func readSettings(b *bbolt.Bucket, out *domain.Settings) error {
	if v := b.Get(keySelfHosted); v != nil {
		out.SelfHosted = domain.Endpoint(v)
	}
	if v := b.Get(keyBlocklist); v != nil {
		if err := json.Unmarshal(v, &out.Blocklist); err != nil {
			return fmt.Errorf("decode blocklist: %w", err)
		}
	}
	return nil
}

// SetSelfHosted stores the self-hosted endpoint. The zero Endpoint clears it.
func (s *Store) SetSelfHosted(e domain.Endpoint) error {
	return s.updateSettings(func(b *bbolt.Bucket) error {
		if e.IsZero() {
			return b.Delete(keySelfHosted)
		}
		return b.Put(keySelfHosted, []byte(e))
	})
}

// SetBlocklist stores the blocklist.
func (s *Store) SetBlocklist(bl domain.Blocklist) error {
	raw, err := json.Marshal(bl)
	if err != nil {
		return fmt.Errorf("encode blocklist: %w", err)
	}
	return s.updateSettings(func(b *bbolt.Bucket) error {
		return b.Put(keyBlocklist, raw)
	})
}

// updateSettings applies fn and, once committed, notifies subscribers with the full settings value.
func (s *Store) updateSettings(fn func(b *bbolt.Bucket) error) error {
	var next domain.Settings
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if err := fn(b); err != nil {
			return err
		}
		return readSettings(b, &next)
	})
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	s.notify(next)
	return nil
}

// Subscribe registers fn to receive the new settings after every successful write.
// Callbacks run synchronously on the writer's goroutine; delivery order across subscribers is unspecified.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(domain.Settings)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(next domain.Settings) {
	s.mu.Lock()
	fns := make([]func(domain.Settings), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.logger.Debug(map[string]any{"subscribers": len(fns), "self_hosted": next.SelfHosted, "blocklist_enabled": next.Blocklist.Enabled}, "settings_changed")
	for _, fn := range fns {
		fn(next)
	}
}

// GetResolution returns the cached resolution for repo, if any.
func (s *Store) GetResolution(repo string) (domain.Resolution, bool, error) {
	var (
		res   domain.Resolution
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketResolutions).Get([]byte(repo))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &res); err != nil {
			return fmt.Errorf("decode resolution for %s: %w", repo, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return domain.Resolution{}, false, err
	}
	return res, found, nil
}

// PutResolution writes res keyed by its repository name, overwriting any previous entry.
func (s *Store) PutResolution(res domain.Resolution) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResolutions).Put([]byte(res.Repo), raw)
	})
}

// VisitResolutions calls visit with every cached repository name until visit returns false.
func (s *Store) VisitResolutions(visit func(repo string) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketResolutions).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !visit(string(k)) {
				return nil
			}
		}
		return nil
	})
}

// CountResolutions returns the number of cached resolutions.
func (s *Store) CountResolutions() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketResolutions).Stats().KeyN
		return nil
	})
	return n, err
}

var _ resolver.SettingsStore = (*Store)(nil)
