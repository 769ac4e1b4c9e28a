package verify

// Phase is a step of the verification state machine.
type Phase int

const (
	// PhaseIdle precedes the first run.
	PhaseIdle Phase = iota
	PhaseConnectingAccount
	PhaseConnectingCounterpart
	PhaseQueryingTier
	PhaseRequestingAttestation
	PhaseSubmitting
	PhaseComplete
	// PhaseError is absorbing; only a new run leaves it.
	PhaseError
)

var phaseNames = map[Phase]string{
	PhaseIdle:                  "idle",
	PhaseConnectingAccount:     "connecting-account",
	PhaseConnectingCounterpart: "connecting-counterpart",
	PhaseQueryingTier:          "querying-tier",
	PhaseRequestingAttestation: "requesting-attestation",
	PhaseSubmitting:            "submitting",
	PhaseComplete:              "complete",
	PhaseError:                 "error",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseError }

// Running reports whether p is one of the in-flight phases.
func (p Phase) Running() bool { return p > PhaseIdle && p < PhaseComplete }

// MarshalText encodes the phase name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
