package realtime

// State is the tagged phase of the upstream link. Exactly one variant is
// active at a time; the loose boolean triple used by dashboard clients is
// derived from it in Snapshot and never stored.
type State int

const (
	// StateIdle means Start has not been called yet.
	StateIdle State = iota

	// StateConnecting means a dial attempt is in flight.
	StateConnecting

	// StateConnected means the link is established and reading events.
	StateConnected

	// StateFailed means the last attempt ended in an error; the retry loop
	// is waiting for its backoff timer or an explicit Reconnect.
	StateFailed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the presentation-boundary view of the link: the boolean triple
// dashboard clients render. Connected and Connecting are mutually exclusive
// because both derive from the same tagged state. Err is non-empty in the
// failed phase, and may still carry the previous failure while a reconnect
// attempt is connecting; it is cleared only on success.
type Snapshot struct {
	Connected  bool   `json:"isConnected"`
	Connecting bool   `json:"isConnecting"`
	Err        string `json:"error,omitempty"`
}

func snapshotOf(state State, lastErr error) Snapshot {
	snap := Snapshot{
		Connected:  state == StateConnected,
		Connecting: state == StateConnecting,
	}
	if state == StateConnected {
		return snap
	}
	if lastErr != nil {
		snap.Err = lastErr.Error()
		if snap.Err == "" {
			snap.Err = "connection error"
		}
	} else if state == StateFailed {
		snap.Err = "connection error"
	}
	return snap
}
