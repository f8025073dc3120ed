package domain

import (
	"slices"
	"strings"
	"time"
)

// Settings is the user configuration that drives resolution.
type Settings struct {
	SelfHosted Endpoint  `json:"self_hosted,omitempty"`
	Blocklist  Blocklist `json:"blocklist"`
}

// Candidates returns the instances eligible before blocklist filtering: the cloud endpoint,
// followed by the self-hosted endpoint when one is configured.
func (s Settings) Candidates(cloud Endpoint) []Endpoint {
	out := []Endpoint{cloud}
	if !s.SelfHosted.IsZero() && s.SelfHosted != cloud {
		out = append(out, s.SelfHosted)
	}
	return out
}

// IsCandidate reports whether e is one of s.Candidates(cloud).
func (s Settings) IsCandidate(cloud, e Endpoint) bool {
	return slices.Contains(s.Candidates(cloud), e)
}

// Resolution is a persisted mapping from a repository name to the instance that serves it.
// ResolvedAt is informational; entries never expire.
type Resolution struct {
	Repo       string    `json:"repo"`
	Endpoint   Endpoint  `json:"endpoint"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ValidateRepo rejects empty or whitespace-only repository names.
// The name itself is used verbatim for cache keys and pattern matching.
func ValidateRepo(repo string) error {
	if strings.TrimSpace(repo) == "" {
		return ErrEmptyRepository
	}
	return nil
}
