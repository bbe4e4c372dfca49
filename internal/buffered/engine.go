// Package buffered implements the in-memory playback engine: whole
// tracks live in RAM as raw PCM and a dedicated writer goroutine
// streams them to the audio sink in fixed-size chunks. A second buffer
// can be preloaded so the writer swaps to the next track at the exact
// end of the current one, with no gap and no engine restart.
package buffered

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mjoubert/ramcd/internal/sink"
	"github.com/mjoubert/ramcd/internal/transport"
)

// ErrNoTrack is returned by Play when nothing has been navigated to.
var ErrNoTrack = errors.New("buffered: no track loaded")

// DataProvider supplies raw PCM bytes for a 1-based track number. It
// is the engine's only link to the disc reader.
type DataProvider func(trackNum int) ([]byte, error)

// Config carries the engine's fixed parameters.
type Config struct {
	Format      sink.Format
	ChunkFrames int           // sample frames per sink write
	JoinTimeout time.Duration // bound on writer shutdown
}

func (c Config) withDefaults() Config {
	if c.Format == (sink.Format{}) {
		c.Format = sink.CDFormat
	}
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = 4096
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 2 * time.Second
	}
	return c
}

// Engine plays raw PCM buffers through a Sink.
//
// The buffer pair is mutated by the caller in NavigateTo/PrepareNext
// and by the writer goroutine during the gapless swap, always under
// mu. The byte cursor is atomic so position reads never block the
// writer.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	open     sink.Opener
	provider DataProvider
	tracks   int

	mu         sync.Mutex
	state      transport.State
	snk        sink.Sink
	current    []byte
	preloaded  []byte
	currentIdx int
	nextIdx    int
	stopCh     chan struct{}
	writerDone chan struct{}

	cursor atomic.Int64
	total  atomic.Int64

	pause  *gate
	events chan transport.Event
}

// New creates a stopped engine for a disc of trackCount tracks.
func New(cfg Config, open sink.Opener, provider DataProvider, trackCount int, log *zap.Logger) *Engine {
	return &Engine{
		cfg:        cfg.withDefaults(),
		log:        log.Named("buffered"),
		open:       open,
		provider:   provider,
		tracks:     trackCount,
		currentIdx: -1,
		nextIdx:    -1,
		pause:      newGate(),
		events:     make(chan transport.Event, transport.EventBufferSize),
	}
}

// Events exposes the track-end / fault stream.
func (e *Engine) Events() <-chan transport.Event { return e.events }

// NavigateTo loads the PCM data for index as the current track and
// optionally starts playing it.
func (e *Engine) NavigateTo(index int, autoPlay bool) error {
	if index < 0 || index >= e.tracks {
		return fmt.Errorf("buffered: track index %d out of range [0,%d)", index, e.tracks)
	}

	data, err := e.provider(index + 1)
	if err != nil {
		return fmt.Errorf("buffered: load track %d: %w", index+1, err)
	}

	e.Stop()

	e.mu.Lock()
	e.current = data
	e.currentIdx = index
	e.total.Store(int64(len(data)))
	e.cursor.Store(0)
	e.mu.Unlock()

	e.log.Debug("track loaded",
		zap.Int("track", index+1),
		zap.Int("bytes", len(data)))

	if autoPlay {
		return e.Play()
	}
	return nil
}

// PrepareNext loads the PCM data for index into the preload slot
// without disturbing current playback.
func (e *Engine) PrepareNext(index int) error {
	if index < 0 || index >= e.tracks {
		return fmt.Errorf("buffered: track index %d out of range [0,%d)", index, e.tracks)
	}

	data, err := e.provider(index + 1)
	if err != nil {
		return fmt.Errorf("buffered: preload track %d: %w", index+1, err)
	}

	e.mu.Lock()
	e.preloaded = data
	e.nextIdx = index
	e.mu.Unlock()

	e.log.Debug("next track preloaded",
		zap.Int("track", index+1),
		zap.Int("bytes", len(data)))
	return nil
}

// ClearNext drops the preload slot.
func (e *Engine) ClearNext() {
	e.mu.Lock()
	e.preloaded = nil
	e.nextIdx = -1
	e.mu.Unlock()
}

// Play starts the writer loop, or releases the pause gate when
// paused. Playing while already playing is a no-op.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case transport.Playing:
		return nil
	case transport.Paused:
		e.state = transport.Playing
		e.pause.Open()
		e.log.Info("resumed")
		return nil
	case transport.Stopped:
	}

	if e.current == nil {
		return ErrNoTrack
	}

	if e.snk == nil {
		snk, err := e.open()
		if err != nil {
			return fmt.Errorf("buffered: open sink: %w", err)
		}
		e.snk = snk
	}

	e.stopCh = make(chan struct{})
	e.writerDone = make(chan struct{})
	e.pause.Open()
	e.state = transport.Playing

	go e.writerLoop(e.stopCh, e.writerDone)

	e.log.Info("playback started",
		zap.Int("track", e.currentIdx+1),
		zap.Duration("at", e.positionLocked()))
	return nil
}

// Pause shuts the gate; the writer parks after its in-flight chunk.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != transport.Playing {
		return
	}
	e.state = transport.Paused
	e.pause.Shut()
	e.log.Info("paused", zap.Duration("at", e.positionLocked()))
}

// Stop signals the writer, joins it with a bounded timeout, resets the
// cursor and flushes the device.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == transport.Stopped {
		e.mu.Unlock()
		return
	}
	e.state = transport.Stopped
	stop, done := e.stopCh, e.writerDone
	e.stopCh, e.writerDone = nil, nil
	e.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	// Release a paused writer so it can observe the stop signal.
	e.pause.Open()

	if done != nil {
		select {
		case <-done:
		case <-time.After(e.cfg.JoinTimeout):
			e.log.Warn("writer did not stop in time, abandoning")
		}
	}

	e.cursor.Store(0)

	e.mu.Lock()
	if e.snk != nil {
		if err := e.snk.Flush(); err != nil {
			e.log.Debug("sink flush on stop", zap.Error(err))
		}
	}
	e.mu.Unlock()

	e.log.Info("stopped")
}

// Seek repositions within the current track, aligned to the sample
// frame size. Playback resumes only if it was running before the seek.
func (e *Engine) Seek(pos time.Duration) {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return
	}
	f := e.cfg.Format
	offset := int64(pos.Seconds() * float64(f.BytesPerSecond()))
	offset -= offset % int64(f.FrameSize())
	wasPlaying := e.state == transport.Playing
	e.mu.Unlock()

	if offset < 0 || offset >= e.total.Load() {
		return
	}

	e.Stop()
	e.cursor.Store(offset)
	if wasPlaying {
		if err := e.Play(); err != nil {
			e.log.Error("replay after seek", zap.Error(err))
		}
	}
	e.log.Info("seek", zap.Duration("to", pos))
}

// Position reports the cursor as a duration. Lock-free.
func (e *Engine) Position() time.Duration {
	return bytesToDuration(e.cursor.Load(), e.cfg.Format)
}

// Duration reports the current buffer length as a duration.
func (e *Engine) Duration() time.Duration {
	return bytesToDuration(e.total.Load(), e.cfg.Format)
}

// State reports the engine state.
func (e *Engine) State() transport.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentIndex reports the loaded track index, -1 if none.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentIdx
}

// TrackCount reports the disc's track count.
func (e *Engine) TrackCount() int { return e.tracks }

// Close stops playback and releases the sink.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	if e.snk != nil {
		if err := e.snk.Close(); err != nil {
			e.log.Debug("sink close", zap.Error(err))
		}
		e.snk = nil
	}
	e.current = nil
	e.preloaded = nil
	e.mu.Unlock()
	e.log.Info("closed")
}

// writerLoop streams chunks from the current buffer to the sink until
// stopped or out of data. It owns the gapless swap.
func (e *Engine) writerLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	chunkBytes := int64(e.cfg.ChunkFrames * e.cfg.Format.FrameSize())

	for {
		select {
		case <-stop:
			return
		case <-e.pause.Opened():
		}
		select {
		case <-stop:
			return
		default:
		}

		cursor := e.cursor.Load()
		if cursor >= e.total.Load() {
			if !e.handleEndOfBuffer(stop) {
				return
			}
			continue
		}

		e.mu.Lock()
		buf := e.current
		snk := e.snk
		e.mu.Unlock()

		end := min(cursor+chunkBytes, int64(len(buf)))
		chunk := buf[cursor:end]

		if err := snk.Write(chunk); err != nil {
			if !e.recoverSink(chunk, err) {
				return
			}
		}

		e.cursor.Store(end)
	}
}

// handleEndOfBuffer performs the gapless swap when a next buffer is
// queued, or winds playback down. Returns false when the loop should
// exit.
func (e *Engine) handleEndOfBuffer(stop <-chan struct{}) bool {
	// A caller-initiated stop beats the natural end: no event fires.
	select {
	case <-stop:
		return false
	default:
	}

	e.mu.Lock()
	// Stop flips the state under mu before signalling the channel, so
	// this recheck catches a Stop that raced the select above.
	if e.state == transport.Stopped {
		e.mu.Unlock()
		return false
	}
	ended := e.currentIdx
	if e.preloaded != nil {
		e.current = e.preloaded
		e.currentIdx = e.nextIdx
		e.preloaded = nil
		e.nextIdx = -1
		e.total.Store(int64(len(e.current)))
		e.cursor.Store(0)
		e.mu.Unlock()

		e.log.Info("gapless transition",
			zap.Int("from", ended+1),
			zap.Int("to", e.CurrentIndex()+1))
		e.emit(transport.Event{Kind: transport.EventTrackEnd, Index: ended, SelfAdvanced: true})
		return true
	}

	e.state = transport.Stopped
	e.stopCh, e.writerDone = nil, nil
	e.cursor.Store(0)
	e.mu.Unlock()

	e.log.Info("end of track", zap.Int("track", ended+1))
	e.emit(transport.Event{Kind: transport.EventTrackEnd, Index: ended})
	return false
}

// recoverSink retries a failed device write once after fully
// reinitializing the sink. A second failure is fatal for this playback
// session: the engine forces itself to Stopped and reports upward.
func (e *Engine) recoverSink(chunk []byte, cause error) bool {
	e.log.Error("sink write failed, reinitializing device", zap.Error(cause))

	e.mu.Lock()
	if e.snk != nil {
		_ = e.snk.Close()
		e.snk = nil
	}
	snk, err := e.open()
	if err == nil {
		e.snk = snk
		e.mu.Unlock()
		if err = snk.Write(chunk); err == nil {
			e.log.Info("recovered from sink error")
			return true
		}
		e.mu.Lock()
	}
	ended := e.currentIdx
	e.state = transport.Stopped
	e.stopCh, e.writerDone = nil, nil
	e.mu.Unlock()

	if err == nil {
		err = cause
	}
	e.log.Error("sink recovery failed, halting playback", zap.Error(err))
	e.emit(transport.Event{Kind: transport.EventFault, Index: ended, Err: err})
	return false
}

func (e *Engine) emit(ev transport.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("event buffer full, dropping", zap.Int("kind", int(ev.Kind)))
	}
}

func (e *Engine) positionLocked() time.Duration {
	return bytesToDuration(e.cursor.Load(), e.cfg.Format)
}

func bytesToDuration(n int64, f sink.Format) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Verify Engine implements Transport at compile time.
var _ transport.Transport = (*Engine)(nil)
