package controller

const eventBufferSize = 16

// Subscription provides event channels for a subscriber.
type Subscription struct {
	StateChanged <-chan StateChange
	TrackChanged <-chan TrackChange
	ModeChanged  <-chan ModeChange
	DiscEnded    <-chan struct{}
	Loading      <-chan LoadProgress
	Error        <-chan ErrorEvent
	Done         <-chan struct{}

	// Internal write channels
	stateCh   chan StateChange
	trackCh   chan TrackChange
	modeCh    chan ModeChange
	endedCh   chan struct{}
	loadingCh chan LoadProgress
	errorCh   chan ErrorEvent
	doneCh    chan struct{}
}

// newSubscription creates a new subscription with buffered channels.
func newSubscription() *Subscription {
	s := &Subscription{
		stateCh:   make(chan StateChange, eventBufferSize),
		trackCh:   make(chan TrackChange, eventBufferSize),
		modeCh:    make(chan ModeChange, eventBufferSize),
		endedCh:   make(chan struct{}, 1),
		loadingCh: make(chan LoadProgress, eventBufferSize),
		errorCh:   make(chan ErrorEvent, eventBufferSize),
		doneCh:    make(chan struct{}),
	}
	s.StateChanged = s.stateCh
	s.TrackChanged = s.trackCh
	s.ModeChanged = s.modeCh
	s.DiscEnded = s.endedCh
	s.Loading = s.loadingCh
	s.Error = s.errorCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// All sends are non-blocking: a slow subscriber drops events rather
// than stalling the playback loop.

func (s *Subscription) sendState(e StateChange) {
	select {
	case s.stateCh <- e:
	default:
	}
}

func (s *Subscription) sendTrack(e TrackChange) {
	select {
	case s.trackCh <- e:
	default:
	}
}

func (s *Subscription) sendMode(e ModeChange) {
	select {
	case s.modeCh <- e:
	default:
	}
}

func (s *Subscription) sendDiscEnded() {
	select {
	case s.endedCh <- struct{}{}:
	default:
	}
}

func (s *Subscription) sendLoading(e LoadProgress) {
	select {
	case s.loadingCh <- e:
	default:
	}
}

func (s *Subscription) sendError(e ErrorEvent) {
	select {
	case s.errorCh <- e:
	default:
	}
}
