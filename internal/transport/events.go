package transport

// EventKind discriminates transport events.
type EventKind int

const (
	// EventTrackEnd fires once when a track reaches its natural end.
	// Index is the index of the track that just ended. SelfAdvanced is
	// true when the engine already moved on to the next track on its
	// own (the buffered engine's gapless swap); the controller then
	// skips the explicit NavigateTo.
	EventTrackEnd EventKind = iota

	// EventFault fires when the engine hit a fatal condition and
	// forced itself to Stopped (e.g. repeated device write failure).
	EventFault
)

// Event is what engines push to the controller.
type Event struct {
	Kind         EventKind
	Index        int
	SelfAdvanced bool
	Err          error
}

// EventBufferSize is the channel depth engines allocate for their
// event stream. Sends are non-blocking; a full buffer drops, which can
// only happen if the controller stopped consuming.
const EventBufferSize = 8
