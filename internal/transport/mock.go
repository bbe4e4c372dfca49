package transport

import (
	"sync"
	"time"
)

// NavigateCall records one NavigateTo invocation.
type NavigateCall struct {
	Index    int
	AutoPlay bool
}

// Mock is a test double for Transport.
type Mock struct {
	mu         sync.Mutex
	state      State
	index      int
	trackCount int
	position   time.Duration
	duration   time.Duration
	prepared   int
	navErr     error
	prepErr    error
	playErr    error
	navCalls   []NavigateCall
	prepCalls  []int
	clearCalls int
	seekCalls  []time.Duration
	stopCalls  int
	closeCalls int

	events chan Event
}

// Verify Mock implements Transport at compile time.
var _ Transport = (*Mock)(nil)

// NewMock creates a stopped mock transport for a disc of trackCount
// tracks.
func NewMock(trackCount int) *Mock {
	return &Mock{
		index:      -1,
		prepared:   -1,
		trackCount: trackCount,
		events:     make(chan Event, EventBufferSize),
	}
}

func (m *Mock) NavigateTo(index int, autoPlay bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navCalls = append(m.navCalls, NavigateCall{Index: index, AutoPlay: autoPlay})
	if m.navErr != nil {
		return m.navErr
	}
	m.index = index
	if autoPlay {
		m.state = Playing
	} else {
		m.state = Stopped
	}
	return nil
}

func (m *Mock) PrepareNext(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepCalls = append(m.prepCalls, index)
	if m.prepErr != nil {
		return m.prepErr
	}
	m.prepared = index
	return nil
}

func (m *Mock) ClearNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCalls++
	m.prepared = -1
}

func (m *Mock) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playErr != nil {
		return m.playErr
	}
	m.state = Playing
	return nil
}

func (m *Mock) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Playing {
		m.state = Paused
	}
}

func (m *Mock) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	m.state = Stopped
	m.position = 0
}

func (m *Mock) Seek(pos time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seekCalls = append(m.seekCalls, pos)
	m.position = pos
}

func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *Mock) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mock) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

func (m *Mock) TrackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackCount
}

func (m *Mock) Events() <-chan Event { return m.events }

func (m *Mock) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.state = Stopped
}

// Test helpers

func (m *Mock) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *Mock) SetPosition(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d
}

func (m *Mock) SetDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = d
}

func (m *Mock) SetNavigateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navErr = err
}

func (m *Mock) NavigateCalls() []NavigateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NavigateCall, len(m.navCalls))
	copy(out, m.navCalls)
	return out
}

func (m *Mock) PrepareCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.prepCalls))
	copy(out, m.prepCalls)
	return out
}

func (m *Mock) ClearCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearCalls
}

func (m *Mock) SeekCalls() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.seekCalls))
	copy(out, m.seekCalls)
	return out
}

func (m *Mock) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

func (m *Mock) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *Mock) Prepared() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepared
}

// EndTrack emits a natural track-end event. With selfAdvance the mock
// behaves like the gapless engine: it moves its own index to the
// prepared track first.
func (m *Mock) EndTrack(selfAdvance bool) {
	m.mu.Lock()
	ended := m.index
	if selfAdvance && m.prepared >= 0 {
		m.index = m.prepared
		m.prepared = -1
	} else {
		m.state = Stopped
	}
	m.mu.Unlock()

	m.events <- Event{Kind: EventTrackEnd, Index: ended, SelfAdvanced: selfAdvance}
}

// Fault emits a fault event and stops the mock.
func (m *Mock) Fault(err error) {
	m.mu.Lock()
	idx := m.index
	m.state = Stopped
	m.mu.Unlock()

	m.events <- Event{Kind: EventFault, Index: idx, Err: err}
}
