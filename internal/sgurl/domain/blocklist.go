package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Blocklist restricts which repositories may be looked up on the cloud instance.
// Content holds one regular expression per line. The zero value is a disabled, empty blocklist.
type Blocklist struct {
	Enabled bool   `json:"enabled"`
	Content string `json:"content"`
}

// Patterns returns the non-blank lines of Content, in order.
// A trailing carriage return is dropped so that CRLF-edited lists behave like LF ones.
func (b Blocklist) Patterns() []string {
	lines := strings.Split(b.Content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// PatternError describes a blocklist line that is not a valid regular expression.
type PatternError struct {
	Pattern string
	Err     error
}

func (e PatternError) Error() string {
	return fmt.Sprintf("invalid blocklist pattern %q: %v", e.Pattern, e.Err)
}

// CompiledBlocklist is a Blocklist with its patterns compiled.
// Invalid patterns are left out and never match.
type CompiledBlocklist struct {
	enabled  bool
	patterns []*regexp.Regexp
}

// Compile compiles every pattern in b. Patterns that fail to compile are reported
// in the returned slice and excluded from matching.
func (b Blocklist) Compile() (CompiledBlocklist, []PatternError) {
	cb := CompiledBlocklist{enabled: b.Enabled}
	var bad []PatternError
	for _, p := range b.Patterns() {
		re, err := regexp.Compile(p)
		if err != nil {
			bad = append(bad, PatternError{Pattern: p, Err: err})
			continue
		}
		cb.patterns = append(cb.patterns, re)
	}
	return cb, bad
}

// Enabled reports whether the blocklist is switched on.
func (c CompiledBlocklist) Enabled() bool { return c.enabled }

// Len returns the number of usable patterns.
func (c CompiledBlocklist) Len() int { return len(c.patterns) }

// Decide evaluates repo against the patterns. Matching is an unanchored search,
// so any partial match blocks. A disabled blocklist never blocks.
func (c CompiledBlocklist) Decide(repo string) BlockDecision {
	if !c.enabled {
		return EmptyDecision()
	}
	for _, re := range c.patterns {
		if re.MatchString(repo) {
			return BlockDecision{Blocked: true, MatchedPattern: re.String()}
		}
	}
	return EmptyDecision()
}

// Allowed applies the blocklist to a (endpoint, repo) pair.
// Only the cloud endpoint is subject to the blocklist; any other endpoint is always allowed.
func (c CompiledBlocklist) Allowed(cloud, endpoint Endpoint, repo string) bool {
	if endpoint != cloud {
		return true
	}
	return !c.Decide(repo).Blocked
}

// Allowed is the pure blocklist check: it reports whether repo may be looked up at endpoint.
// It compiles b on every call; hot paths should hold a CompiledBlocklist instead.
func Allowed(cloud, endpoint Endpoint, b Blocklist, repo string) bool {
	if endpoint != cloud || !b.Enabled {
		return true
	}
	cb, _ := b.Compile()
	return cb.Allowed(cloud, endpoint, repo)
}
