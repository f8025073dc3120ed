package domain

// BlockDecision is the outcome of evaluating a repository name against the blocklist.
type BlockDecision struct {
	Blocked        bool   // true if any pattern matched
	MatchedPattern string // the first pattern that matched, empty when not blocked
}

// IsBlocked is a convenience accessor.
func (d BlockDecision) IsBlocked() bool { return d.Blocked }

// EmptyDecision returns a not-blocked decision.
func EmptyDecision() BlockDecision { return BlockDecision{} }
