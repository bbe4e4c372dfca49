package buffered

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mjoubert/ramcd/internal/sink"
	"github.com/mjoubert/ramcd/internal/transport"
)

// Small fake format keeps the per-chunk byte counts tiny so tests
// stream whole tracks in microseconds.
var testFormat = sink.Format{SampleRate: 100, Channels: 2, BitDepth: 16}

func testConfig() Config {
	return Config{
		Format:      testFormat,
		ChunkFrames: 4,
		JoinTimeout: time.Second,
	}
}

// sinkFactory hands out mock sinks, one per engine (re)open, so tests
// can observe the engine's reinit-on-failure path.
type sinkFactory struct {
	mu     sync.Mutex
	queue  []*sink.Mock
	opened []*sink.Mock
	delay  time.Duration // applied to every mock handed out
}

// pace makes all future mocks block per write, so tracks take real
// time to stream and pause/stop can interrupt mid-track.
func (f *sinkFactory) pace(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// push queues a pre-configured mock for the next open.
func (f *sinkFactory) push(m *sink.Mock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, m)
}

func (f *sinkFactory) open() (sink.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m *sink.Mock
	if len(f.queue) > 0 {
		m, f.queue = f.queue[0], f.queue[1:]
	} else {
		m = sink.NewMock()
	}
	if f.delay > 0 {
		m.SetWriteDelay(f.delay)
	}
	f.opened = append(f.opened, m)
	return m, nil
}

// written concatenates everything accepted across all opened sinks.
func (f *sinkFactory) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for _, m := range f.opened {
		out = append(out, m.Written()...)
	}
	return out
}

func (f *sinkFactory) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.opened {
		n += m.Writes()
	}
	return n
}

func (f *sinkFactory) flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.opened {
		n += m.Flushes()
	}
	return n
}

func (f *sinkFactory) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

// pcm generates n frames of recognizable PCM for track tagging.
func pcm(tag byte, frames int) []byte {
	out := make([]byte, frames*testFormat.FrameSize())
	for i := range out {
		out[i] = tag
	}
	return out
}

func mapProvider(tracks map[int][]byte) DataProvider {
	return func(num int) ([]byte, error) {
		data, ok := tracks[num]
		if !ok {
			return nil, fmt.Errorf("no data for track %d", num)
		}
		return data, nil
	}
}

func newTestEngine(t *testing.T, tracks map[int][]byte) (*Engine, *sinkFactory) {
	t.Helper()
	f := &sinkFactory{}
	e := New(testConfig(), f.open, mapProvider(tracks), len(tracks), zap.NewNop())
	t.Cleanup(e.Close)
	return e, f
}

func waitEvent(t *testing.T, e *Engine) transport.Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine event")
		return transport.Event{}
	}
}

func TestNavigateTo_LoadsTrack(t *testing.T) {
	e, _ := newTestEngine(t, map[int][]byte{1: pcm('a', 20)})

	require.NoError(t, e.NavigateTo(0, false))

	assert.Equal(t, transport.Stopped, e.State())
	assert.Equal(t, 0, e.CurrentIndex())
	assert.Equal(t, time.Duration(0), e.Position())
	assert.Equal(t, 200*time.Millisecond, e.Duration()) // 20 of 100 frames/s
}

func TestNavigateTo_OutOfRange(t *testing.T) {
	e, _ := newTestEngine(t, map[int][]byte{1: pcm('a', 20)})

	assert.Error(t, e.NavigateTo(5, false))
	assert.Error(t, e.NavigateTo(-1, false))
}

func TestPlay_NoTrackLoaded(t *testing.T) {
	e, _ := newTestEngine(t, map[int][]byte{1: pcm('a', 20)})

	assert.ErrorIs(t, e.Play(), ErrNoTrack)
}

func TestPlay_StreamsWholeTrackThenStops(t *testing.T) {
	data := pcm('a', 40)
	e, f := newTestEngine(t, map[int][]byte{1: data})

	require.NoError(t, e.NavigateTo(0, true))

	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventTrackEnd, ev.Kind)
	assert.Equal(t, 0, ev.Index)
	assert.False(t, ev.SelfAdvanced)
	assert.Equal(t, transport.Stopped, e.State())
	assert.True(t, bytes.Equal(data, f.written()),
		"sink should have received the whole track verbatim")
}

func TestPlay_TwiceIsIdempotent(t *testing.T) {
	data := pcm('a', 40)
	e, f := newTestEngine(t, map[int][]byte{1: data})
	f.pace(2 * time.Millisecond)

	require.NoError(t, e.NavigateTo(0, true))
	require.NoError(t, e.Play()) // second call while playing

	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventTrackEnd, ev.Kind)

	// A second writer would double-stream the buffer.
	assert.Equal(t, len(data), len(f.written()))

	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGaplessTransition(t *testing.T) {
	trackA := pcm('a', 40)
	trackB := pcm('b', 24)
	e, f := newTestEngine(t, map[int][]byte{1: trackA, 2: trackB})
	f.pace(2 * time.Millisecond)

	require.NoError(t, e.NavigateTo(0, false))
	require.NoError(t, e.PrepareNext(1))
	require.NoError(t, e.Play())

	// First event: A ended and the engine advanced on its own.
	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventTrackEnd, ev.Kind)
	assert.Equal(t, 0, ev.Index)
	assert.True(t, ev.SelfAdvanced, "gapless swap should be reported as self-advance")

	// The writer never stopped: the engine is still Playing B.
	assert.Equal(t, transport.Playing, e.State())
	assert.Equal(t, 1, e.CurrentIndex())

	// Second event: B ends naturally.
	ev = waitEvent(t, e)
	assert.Equal(t, 1, ev.Index)
	assert.False(t, ev.SelfAdvanced)

	want := append(append([]byte(nil), trackA...), trackB...)
	assert.True(t, bytes.Equal(want, f.written()),
		"A and B should be contiguous on the sink with no gap")
}

func TestPauseResume(t *testing.T) {
	e, f := newTestEngine(t, map[int][]byte{1: pcm('a', 200)})
	f.pace(2 * time.Millisecond)

	require.NoError(t, e.NavigateTo(0, true))
	time.Sleep(20 * time.Millisecond)

	e.Pause()
	assert.Equal(t, transport.Paused, e.State())
	pos := e.Position()
	writes := f.writes()
	time.Sleep(30 * time.Millisecond)
	// Paused: at most the in-flight chunk lands, then nothing moves.
	assert.LessOrEqual(t, f.writes(), writes+1)
	assert.GreaterOrEqual(t, e.Position(), pos)

	require.NoError(t, e.Play())
	assert.Equal(t, transport.Playing, e.State())

	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventTrackEnd, ev.Kind)
}

func TestStop_ResetsCursorAndFlushes(t *testing.T) {
	e, f := newTestEngine(t, map[int][]byte{1: pcm('a', 200)})
	f.pace(2 * time.Millisecond)

	require.NoError(t, e.NavigateTo(0, true))
	time.Sleep(20 * time.Millisecond)

	e.Stop()

	assert.Equal(t, transport.Stopped, e.State())
	assert.Equal(t, time.Duration(0), e.Position())
	assert.GreaterOrEqual(t, f.flushes(), 1, "stop should flush the device")

	// No track-end event for a caller-initiated stop.
	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected event after Stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStop_WhilePausedReturnsPromptly(t *testing.T) {
	e, f := newTestEngine(t, map[int][]byte{1: pcm('a', 200)})
	f.pace(2 * time.Millisecond)

	require.NoError(t, e.NavigateTo(0, true))
	time.Sleep(10 * time.Millisecond)
	e.Pause()

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() hung on a paused writer")
	}
}

func TestStop_RacingEndOfBufferEmitsNoEvent(t *testing.T) {
	e, _ := newTestEngine(t, map[int][]byte{1: pcm('a', 40), 2: pcm('b', 40)})

	require.NoError(t, e.NavigateTo(0, false))
	require.NoError(t, e.PrepareNext(1))

	// A Stop can flip the state between the writer's stop-channel
	// check and the end-of-buffer handling. The handler must notice
	// the stopped state instead of emitting a stale track end.
	e.mu.Lock()
	e.state = transport.Stopped
	e.mu.Unlock()
	e.cursor.Store(e.total.Load())

	stillOpen := make(chan struct{})
	assert.False(t, e.handleEndOfBuffer(stillOpen))

	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// The queued track survives for the next explicit start.
	e.mu.Lock()
	assert.NotNil(t, e.preloaded)
	e.mu.Unlock()
}

func TestSeek_RepositionsAndConditionallyReplays(t *testing.T) {
	e, f := newTestEngine(t, map[int][]byte{1: pcm('a', 200)})
	f.pace(2 * time.Millisecond)

	require.NoError(t, e.NavigateTo(0, false))

	// Stopped seek repositions without starting playback.
	e.Seek(500 * time.Millisecond)
	assert.Equal(t, transport.Stopped, e.State())
	assert.Equal(t, 500*time.Millisecond, e.Position())

	// Out-of-range seek is rejected.
	e.Seek(time.Hour)
	assert.Equal(t, 500*time.Millisecond, e.Position())

	// Seek during playback replays from the new offset.
	require.NoError(t, e.Play())
	e.Seek(time.Second)
	assert.Equal(t, transport.Playing, e.State())
}

func TestSeek_FrameAligned(t *testing.T) {
	e, _ := newTestEngine(t, map[int][]byte{1: pcm('a', 200)})
	require.NoError(t, e.NavigateTo(0, false))

	// 333ms at 400 B/s is 133.2 bytes; must land on a 4-byte frame.
	e.Seek(333 * time.Millisecond)
	posBytes := int64(e.Position().Seconds() * float64(testFormat.BytesPerSecond()))
	assert.Zero(t, posBytes%int64(testFormat.FrameSize()))
}

func TestSinkFailure_RecoversOnce(t *testing.T) {
	data := pcm('a', 40)
	e, f := newTestEngine(t, map[int][]byte{1: data})

	failing := sink.NewMock()
	failing.FailWrites(1, errors.New("underrun"))
	f.push(failing)

	require.NoError(t, e.NavigateTo(0, true))

	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventTrackEnd, ev.Kind, "one write failure should be recovered")
	assert.Equal(t, 2, f.opens(), "recovery should reinitialize the sink")
	assert.True(t, bytes.Equal(data, f.written()), "no chunk may be lost across the reinit")
}

func TestSinkFailure_SecondFailureIsFatal(t *testing.T) {
	e, f := newTestEngine(t, map[int][]byte{1: pcm('a', 40)})

	first := sink.NewMock()
	first.FailWrites(1, errors.New("device gone"))
	second := sink.NewMock()
	second.FailWrites(1, errors.New("device still gone"))
	f.push(first)
	f.push(second)

	require.NoError(t, e.NavigateTo(0, true))

	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventFault, ev.Kind)
	assert.Error(t, ev.Err)
	assert.Equal(t, transport.Stopped, e.State())
}

func TestClearNext(t *testing.T) {
	trackA := pcm('a', 16)
	e, f := newTestEngine(t, map[int][]byte{1: trackA, 2: pcm('b', 16)})

	require.NoError(t, e.NavigateTo(0, false))
	require.NoError(t, e.PrepareNext(1))
	e.ClearNext()
	require.NoError(t, e.Play())

	ev := waitEvent(t, e)
	assert.False(t, ev.SelfAdvanced, "cleared preload must not gapless-swap")
	assert.Equal(t, len(trackA), len(f.written()))
}
