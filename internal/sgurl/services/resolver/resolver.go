package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/sgurl/internal/sgurl/common/clock"
	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/domain"
)

// Error message constants for consistent error handling
const (
	errStoreRequired     = "settings store is required"
	errCacheRequired     = "resolution cache is required"
	errBlocklistRequired = "blocklist is required"
	errProberRequired    = "prober is required"
	errLoadSettings      = "load settings: %w"
)

// Resolver decides which Sourcegraph instance serves a repository and tracks the
// instance currently in use. It keeps a live view of the self-hosted endpoint and
// blocklist through its store subscription; Close releases it.
type Resolver struct {
	cloud        domain.Endpoint
	store        SettingsStore
	cache        ResolutionCache
	blocklist    Blocklist
	prober       Prober
	clock        clock.Clock
	logger       log.Logger
	probeTimeout time.Duration

	mu         sync.RWMutex
	selfHosted domain.Endpoint

	feed        *endpointFeed
	flight      singleflight.Group
	unsubscribe func()
}

// Options wires a Resolver's collaborators.
type Options struct {
	// Cloud is the public instance. Defaults to domain.CloudEndpoint.
	Cloud     domain.Endpoint
	Store     SettingsStore
	Cache     ResolutionCache
	Blocklist Blocklist
	Prober    Prober
	Clock     clock.Clock
	Logger    log.Logger
	// ProbeTimeout bounds each probe; an expired probe counts as a non-match.
	// Zero lets probes run until they settle.
	ProbeTimeout time.Duration
}

// NewResolver loads the persisted settings, subscribes to later changes and returns
// a Resolver whose current endpoint starts at the cloud instance.
func NewResolver(opts Options) (*Resolver, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New(errStoreRequired)
	case opts.Cache == nil:
		return nil, errors.New(errCacheRequired)
	case opts.Blocklist == nil:
		return nil, errors.New(errBlocklistRequired)
	case opts.Prober == nil:
		return nil, errors.New(errProberRequired)
	}
	if opts.Cloud.IsZero() {
		opts.Cloud = domain.CloudEndpoint
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	r := &Resolver{
		cloud:        opts.Cloud,
		store:        opts.Store,
		cache:        opts.Cache,
		blocklist:    opts.Blocklist,
		prober:       opts.Prober,
		clock:        opts.Clock,
		logger:       log.OrNoop(opts.Logger),
		probeTimeout: opts.ProbeTimeout,
		feed:         newEndpointFeed(opts.Cloud),
	}

	settings, err := opts.Store.Settings()
	if err != nil {
		return nil, fmt.Errorf(errLoadSettings, err)
	}
	r.applySettings(settings)
	r.unsubscribe = opts.Store.Subscribe(r.applySettings)
	return r, nil
}

// applySettings installs a new settings snapshot. The blocklist is only recompiled
// when it actually changed.
func (r *Resolver) applySettings(s domain.Settings) {
	r.mu.Lock()
	r.selfHosted = s.SelfHosted
	r.mu.Unlock()

	if r.blocklist.Current() != s.Blocklist {
		r.blocklist.Update(s.Blocklist)
	}
	r.logger.Debug(map[string]any{"self_hosted": s.SelfHosted, "blocklist_enabled": s.Blocklist.Enabled}, "settings_applied")
}

// Close drops the store subscription and closes every Observe channel.
func (r *Resolver) Close() {
	r.unsubscribe()
	r.feed.Close()
}

// Cloud returns the cloud endpoint.
func (r *Resolver) Cloud() domain.Endpoint { return r.cloud }

// Candidates returns the cloud endpoint plus the self-hosted endpoint when configured.
func (r *Resolver) Candidates() []domain.Endpoint {
	return r.settings().Candidates(r.cloud)
}

// settings snapshots the live settings that decide candidacy.
func (r *Resolver) settings() domain.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.Settings{SelfHosted: r.selfHosted}
}

// Allowed reports whether repo may be looked up at endpoint under the current blocklist.
func (r *Resolver) Allowed(endpoint domain.Endpoint, repo string) bool {
	return r.blocklist.Allowed(endpoint, repo)
}

// Resolve returns the instance serving repo.
//
// A cached resolution is returned without probing while its endpoint is still a candidate
// and still allowed by the blocklist. Otherwise every allowed candidate is probed
// concurrently and the first positive answer to arrive wins; failed probes count as
// negative. The winner is cached. If nothing answers positively the error is an
// *domain.UnresolvedRepositoryError.
//
// Concurrent calls for the same repo share one resolution. A caller whose ctx ends
// stops waiting, but the shared resolution runs to completion.
func (r *Resolver) Resolve(ctx context.Context, repo string) (domain.Endpoint, error) {
	if err := domain.ValidateRepo(repo); err != nil {
		return "", err
	}

	ch := r.flight.DoChan(repo, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), repo)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			r.logger.Debug(map[string]any{"repo": repo}, "resolution_shared")
		}
		return res.Val.(domain.Endpoint), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) resolve(ctx context.Context, repo string) (domain.Endpoint, error) {
	settings := r.settings()
	candidates := settings.Candidates(r.cloud)

	if res, ok := r.cache.Lookup(repo); ok {
		if settings.IsCandidate(r.cloud, res.Endpoint) && r.blocklist.Allowed(res.Endpoint, repo) {
			r.logger.Debug(map[string]any{"repo": repo, "endpoint": res.Endpoint}, "cache_hit")
			return res.Endpoint, nil
		}
		r.logger.Debug(map[string]any{"repo": repo, "endpoint": res.Endpoint}, "cache_entry_stale")
	}

	eligible := make([]domain.Endpoint, 0, len(candidates))
	for _, e := range candidates {
		if r.blocklist.Allowed(e, repo) {
			eligible = append(eligible, e)
		}
	}

	winner, err := r.race(ctx, repo, eligible)
	if err != nil {
		return "", err
	}
	if winner.IsZero() {
		r.logger.Info(map[string]any{"repo": repo, "candidates": eligible}, "Repository not found on any Sourcegraph instance")
		return "", &domain.UnresolvedRepositoryError{Repo: repo}
	}

	res := domain.Resolution{Repo: repo, Endpoint: winner, ResolvedAt: r.clock.Now()}
	if err := r.cache.Remember(res); err != nil {
		r.logger.Warn(map[string]any{"repo": repo, "endpoint": winner, "error": err}, "Failed to cache resolution")
	}
	return winner, nil
}

// Use resolves repo and makes the result the current endpoint.
func (r *Resolver) Use(ctx context.Context, repo string) error {
	e, err := r.Resolve(ctx, repo)
	if err != nil {
		return err
	}
	if r.feed.Publish(e) {
		r.logger.Info(map[string]any{"repo": repo, "endpoint": e}, "Current Sourcegraph URL changed")
	}
	return nil
}

// Current returns the endpoint currently in use.
func (r *Resolver) Current() domain.Endpoint { return r.feed.Current() }

// Observe returns a channel yielding the current endpoint and then each distinct change.
// The channel is closed by cancel or by Close.
func (r *Resolver) Observe() (<-chan domain.Endpoint, func()) {
	return r.feed.Subscribe()
}

// SelfHosted returns the configured self-hosted endpoint, or the zero Endpoint.
func (r *Resolver) SelfHosted() domain.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfHosted
}

// SetSelfHosted normalizes and persists the self-hosted endpoint; an empty value clears it.
// It does not re-resolve anything; later resolutions see the change.
func (r *Resolver) SetSelfHosted(raw string) error {
	e, err := domain.NormalizeEndpoint(raw)
	if err != nil {
		return err
	}
	return r.store.SetSelfHosted(e)
}

// Blocklist returns the blocklist in effect.
func (r *Resolver) Blocklist() domain.Blocklist { return r.blocklist.Current() }

// SetBlocklist persists bl. It does not re-resolve anything; later resolutions see the change.
func (r *Resolver) SetBlocklist(bl domain.Blocklist) error {
	return r.store.SetBlocklist(bl)
}
