package controller

import (
	"github.com/mjoubert/ramcd/internal/disc"
	"github.com/mjoubert/ramcd/internal/sequencer"
	"github.com/mjoubert/ramcd/internal/transport"
)

// StateChange is emitted when the transport state changes.
type StateChange struct {
	Previous transport.State
	Current  transport.State
}

// TrackChange is emitted when playback moves to a different track,
// whether by user navigation, a gapless self-advance or an explicit
// advance after track end.
type TrackChange struct {
	Index int // 0-based
	Total int
	Track disc.Track
}

// ModeChange is emitted when repeat or shuffle mode changes.
type ModeChange struct {
	RepeatMode sequencer.RepeatMode
	Shuffle    bool
}

// LoadProgress is emitted while a disc is being extracted to RAM.
type LoadProgress struct {
	Track  int // 1-based track being extracted
	Total  int
	Status string // "extracting", "retry N", "complete"
}

// ErrorEvent is emitted when an operation or the transport itself
// fails.
type ErrorEvent struct {
	Operation string // e.g. "play", "transport"
	Err       error
}
