package plan

import (
	"fmt"
	"strings"
)

// Tier is the internal plan level. The zero value is not a tier; use TierFree.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierPro     Tier = "pro"
)

var ranks = map[Tier]int{
	TierFree:    0,
	TierPremium: 1,
	TierPro:     2,
}

// ParseTier maps s to a Tier, case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ranks[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Known reports whether t is a defined tier.
func (t Tier) Known() bool {
	_, ok := ranks[t]
	return ok
}

// Less reports whether t ranks below other. Unknown tiers rank as free.
func (t Tier) Less(other Tier) bool {
	return ranks[t] < ranks[other]
}

func (t Tier) String() string { return string(t) }

// Change classifies a move between two tiers.
type Change int

const (
	Same Change = iota
	Upgrade
	Downgrade
)

func (c Change) String() string {
	switch c {
	case Upgrade:
		return "upgrade"
	case Downgrade:
		return "downgrade"
	default:
		return "same"
	}
}

// Compare classifies the move from one tier to another.
func Compare(from, to Tier) Change {
	switch {
	case from.Less(to):
		return Upgrade
	case to.Less(from):
		return Downgrade
	default:
		return Same
	}
}

// Max returns the higher of two tiers.
func Max(a, b Tier) Tier {
	if a.Less(b) {
		return b
	}
	return a
}
