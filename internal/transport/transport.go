package transport

import "time"

// Transport is the capability contract implemented by every playback
// engine. The controller drives exactly one Transport per loaded disc;
// switching engines requires a fresh load.
//
// All track indices are 0-based. Implementations own whatever child
// process, buffer memory or device handle they allocate and release it
// in Close.
type Transport interface {
	// Play starts playback of the navigated track, or resumes if
	// paused. Calling Play while already playing is a no-op.
	Play() error

	// Pause suspends playback keeping the current position. No-op
	// unless playing.
	Pause()

	// Stop halts playback and resets the position to the start of the
	// current track. Stop returns only after any background goroutine
	// has been signalled and joined (bounded).
	Stop()

	// Seek moves to an absolute position within the current track.
	// Seeking while stopped is a no-op.
	Seek(pos time.Duration)

	// Position reports the playback position within the current track.
	// Reads never block playback; slightly stale values are acceptable.
	Position() time.Duration

	// Duration reports the length of the current track.
	Duration() time.Duration

	// State reports the engine state.
	State() State

	// NavigateTo makes the track at index current, optionally starting
	// playback. It replaces whatever was loaded.
	NavigateTo(index int, autoPlay bool) error

	// PrepareNext queues the track at index for a gapless handoff.
	// Engines without buffer preloading treat this as a no-op.
	PrepareNext(index int) error

	// ClearNext drops any queued next track.
	ClearNext()

	// CurrentIndex reports the index of the current track, -1 if none.
	CurrentIndex() int

	// TrackCount reports the number of tracks in the loaded disc.
	TrackCount() int

	// Events exposes the engine's event stream. The channel is
	// buffered and sends are non-blocking: an engine emits at most one
	// EventTrackEnd per natural end of track, and never after Stop or
	// Close has returned.
	Events() <-chan Event

	// Close stops playback and releases all resources. The transport
	// must not be used afterwards.
	Close()
}
