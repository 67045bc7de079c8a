package trust

// MergeActionStates combines per-source trust states into one.
//
// Rules (applied in order):
//  1. If ANY state is malicious → malicious
//  2. If ANY state is unknown   → unknown
//  3. Otherwise                 → trusted
//
// An empty merge is trusted.
func MergeActionStates(states ...ExtendedActionState) ExtendedActionState {
	merged := StateTrusted
	for _, s := range states {
		if s.severity() > merged.severity() {
			merged = s
			if merged == StateMalicious {
				break
			}
		}
	}
	if merged.severity() == 1 {
		return StateUnknown
	}
	return merged
}
