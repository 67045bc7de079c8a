package trust

// CheckSecurity reports whether state is admitted by level.
func CheckSecurity(state ExtendedActionState, level SecurityLevel) bool {
	switch level {
	case LevelOnlyTrusted:
		return state == StateTrusted
	case LevelNonMalicious:
		return state != StateMalicious
	case LevelAll:
		return true
	default:
		return false
	}
}

// CheckSecurityFromActionState requires the action to pass its actions
// threshold and, when an origin is present, the origin to pass the threshold
// of its category.
func CheckSecurityFromActionState(snapshot ActionStateWithOrigin, level NormalizedSecurityLevel) bool {
	if !CheckSecurity(snapshot.Action, level.Actions) {
		return false
	}
	if snapshot.Origin == nil {
		return true
	}
	return CheckSecurity(*snapshot.Origin, level.For(snapshot.OriginType))
}

// Classify returns the overall classification used for display.
func Classify(snapshot ActionStateWithOrigin) ExtendedActionState {
	if snapshot.Origin == nil {
		return MergeActionStates(snapshot.Action)
	}
	return MergeActionStates(snapshot.Action, *snapshot.Origin)
}

// DisclaimerKind selects the warning shown next to a blink.
type DisclaimerKind string

const (
	DisclaimerBlocked DisclaimerKind = "blocked"
	DisclaimerUnknown DisclaimerKind = "unknown"
)

// Disclaimer describes the warning for a classification.
type Disclaimer struct {
	Kind DisclaimerKind `json:"kind"`
	// Ignorable is true when the user may dismiss the warning and proceed.
	Ignorable bool `json:"ignorable"`
}

// DisclaimerFor returns the disclaimer for snapshot under level, or nil for
// trusted blinks. A malicious classification is only ignorable when the
// caller's policy still admits it.
func DisclaimerFor(snapshot ActionStateWithOrigin, level NormalizedSecurityLevel) *Disclaimer {
	switch Classify(snapshot) {
	case StateMalicious:
		return &Disclaimer{
			Kind:      DisclaimerBlocked,
			Ignorable: CheckSecurityFromActionState(snapshot, level),
		}
	case StateUnknown:
		return &Disclaimer{Kind: DisclaimerUnknown, Ignorable: true}
	default:
		return nil
	}
}
