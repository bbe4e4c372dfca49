package transport

// State represents the playback state machine shared by all transports.
//
// The state machine has three states with the following valid transitions:
//
//   - Stopped → Playing (via Play after NavigateTo)
//   - Playing → Paused  (via Pause)
//   - Playing → Stopped (via Stop, or natural end with nothing preloaded)
//   - Paused  → Playing (via Play)
//   - Paused  → Stopped (via Stop)
//
// Invalid transitions are no-ops, never errors: Play while Playing,
// Pause while Stopped, and Stop while Stopped all return without
// touching engine state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// IsActive returns true if playback is active (playing or paused).
func (s State) IsActive() bool {
	return s == Playing || s == Paused
}
