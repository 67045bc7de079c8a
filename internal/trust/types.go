package trust

import (
	"fmt"

	"github.com/triage-ai/blinkguard/internal/registry"
)

// ExtendedActionState is the three-valued trust lattice.
// Severity order for merging: malicious > unknown > trusted.
type ExtendedActionState string

const (
	StateTrusted   ExtendedActionState = "trusted"
	StateMalicious ExtendedActionState = "malicious"
	StateUnknown   ExtendedActionState = "unknown"
)

// severity ranks a state for worst-case merging.
func (s ExtendedActionState) severity() int {
	switch s {
	case StateTrusted:
		return 0
	case StateMalicious:
		return 2
	default:
		return 1
	}
}

// FromEntity converts a registry record into a trust state. A nil record is
// unknown.
func FromEntity(e *registry.RegisteredEntity) ExtendedActionState {
	if e == nil {
		return StateUnknown
	}
	switch e.State {
	case registry.StateTrusted:
		return StateTrusted
	case registry.StateMalicious:
		return StateMalicious
	default:
		return StateUnknown
	}
}

// SecurityLevel is a policy threshold.
type SecurityLevel string

const (
	LevelOnlyTrusted  SecurityLevel = "only-trusted"
	LevelNonMalicious SecurityLevel = "non-malicious"
	LevelAll          SecurityLevel = "all"
)

// DefaultSecurityLevel applies to every category when no policy is given.
const DefaultSecurityLevel = LevelOnlyTrusted

// ParseSecurityLevel validates a level name.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch SecurityLevel(s) {
	case LevelOnlyTrusted, LevelNonMalicious, LevelAll:
		return SecurityLevel(s), nil
	default:
		return "", fmt.Errorf("unknown security level %q", s)
	}
}

// NormalizedSecurityLevel holds an independent threshold per source category.
type NormalizedSecurityLevel struct {
	Websites      SecurityLevel `json:"websites" yaml:"websites"`
	Interstitials SecurityLevel `json:"interstitials" yaml:"interstitials"`
	Actions       SecurityLevel `json:"actions" yaml:"actions"`
}

// Uniform returns a NormalizedSecurityLevel with every category set to level.
func Uniform(level SecurityLevel) NormalizedSecurityLevel {
	return NormalizedSecurityLevel{Websites: level, Interstitials: level, Actions: level}
}

// DefaultNormalizedSecurityLevel is the policy used when none is configured.
func DefaultNormalizedSecurityLevel() NormalizedSecurityLevel {
	return Uniform(DefaultSecurityLevel)
}

// For returns the threshold for a source category. Unknown categories get
// the strictest level.
func (n NormalizedSecurityLevel) For(source registry.Source) SecurityLevel {
	switch source {
	case registry.SourceWebsites:
		return n.Websites
	case registry.SourceInterstitials:
		return n.Interstitials
	case registry.SourceActions:
		return n.Actions
	default:
		return LevelOnlyTrusted
	}
}

// withDefaults fills empty categories with the default level.
func (n NormalizedSecurityLevel) withDefaults() NormalizedSecurityLevel {
	if n.Websites == "" {
		n.Websites = DefaultSecurityLevel
	}
	if n.Interstitials == "" {
		n.Interstitials = DefaultSecurityLevel
	}
	if n.Actions == "" {
		n.Actions = DefaultSecurityLevel
	}
	return n
}

// ActionStateWithOrigin is the merged trust snapshot consulted before every
// execution step. Origin is nil when the action was opened directly.
type ActionStateWithOrigin struct {
	Action     ExtendedActionState  `json:"action"`
	Origin     *ExtendedActionState `json:"origin,omitempty"`
	OriginType registry.Source      `json:"origin_type,omitempty"`
}

// WithOrigin returns a copy of s with the given origin state.
func (s ActionStateWithOrigin) WithOrigin(state ExtendedActionState, source registry.Source) ActionStateWithOrigin {
	s.Origin = &state
	s.OriginType = source
	return s
}
