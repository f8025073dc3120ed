package resolver

import (
	"context"

	"github.com/haukened/sgurl/internal/sgurl/domain"
)

// Prober answers whether repo is known (mirrored) at endpoint.
// A transport failure is returned as an error; the resolver treats it as a non-match.
type Prober interface {
	Probe(ctx context.Context, endpoint domain.Endpoint, repo string) (bool, error)
}

// SettingsStore persists user configuration and pushes every change to subscribers.
type SettingsStore interface {
	Settings() (domain.Settings, error)
	SetSelfHosted(e domain.Endpoint) error
	SetBlocklist(bl domain.Blocklist) error
	Subscribe(fn func(domain.Settings)) (cancel func())
}

// ResolutionCache holds previously resolved repositories.
type ResolutionCache interface {
	Lookup(repo string) (domain.Resolution, bool)
	Remember(res domain.Resolution) error
}

// Blocklist is the live blocklist the resolver filters candidates with.
type Blocklist interface {
	Allowed(endpoint domain.Endpoint, repo string) bool
	Update(bl domain.Blocklist)
	Current() domain.Blocklist
}
