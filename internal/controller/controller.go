// Package controller orchestrates the disc reader, the sequencer and
// the active transport into a single player facade. It owns the
// transport event loop: track ends and faults arrive on the engine's
// event channel and are turned into sequencer advances, navigation
// calls and subscriber broadcasts.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mjoubert/ramcd/internal/buffered"
	"github.com/mjoubert/ramcd/internal/config"
	"github.com/mjoubert/ramcd/internal/disc"
	"github.com/mjoubert/ramcd/internal/mpv"
	"github.com/mjoubert/ramcd/internal/sequencer"
	"github.com/mjoubert/ramcd/internal/sink"
	"github.com/mjoubert/ramcd/internal/state"
	"github.com/mjoubert/ramcd/internal/transport"
)

// ErrNoDiscLoaded is returned by playback operations before Load has
// succeeded.
var ErrNoDiscLoaded = errors.New("controller: no disc loaded")

// transportFactory builds the engine matching an extraction level.
// Swappable in tests.
type transportFactory func(level disc.Level) (transport.Transport, error)

// Controller is the player facade. All methods are safe for concurrent
// use.
type Controller struct {
	cfg    *config.Config
	log    *zap.Logger
	reader *disc.Reader
	drive  *disc.Drive    // nil disables drive hardware control
	store  *state.Manager // nil disables resume persistence

	newTransport transportFactory

	mu        sync.Mutex
	seq       *sequencer.Sequencer
	tp        transport.Transport
	loopStop  chan struct{}
	loopDone  chan struct{}
	lastStop  time.Time
	stopArmed bool

	subMu sync.Mutex
	subs  []*Subscription
}

// New creates a controller. drive may be nil when drive hardware
// control is unavailable, store may be nil when resume persistence is
// unavailable.
func New(cfg *config.Config, reader *disc.Reader, drive *disc.Drive, store *state.Manager, log *zap.Logger) *Controller {
	c := &Controller{
		cfg:    cfg,
		log:    log,
		reader: reader,
		drive:  drive,
		store:  store,
		seq:    sequencer.New(),
	}
	c.newTransport = c.buildTransport
	return c
}

// Subscribe registers a new event subscriber. The returned channels
// stay open until Close.
func (c *Controller) Subscribe() *Subscription {
	sub := newSubscription()
	c.subMu.Lock()
	c.subs = append(c.subs, sub)
	c.subMu.Unlock()
	return sub
}

// Load detects and reads the disc, extracts it to RAM when the level
// calls for it, builds the matching transport and navigates to the
// starting track. A previously loaded disc is unloaded first.
func (c *Controller) Load(ctx context.Context) error {
	c.unload()
	c.wakeDrive(ctx)

	if !c.reader.Detect(ctx) {
		return disc.ErrNoDisc
	}
	tracks, err := c.reader.ReadTOC(ctx)
	if err != nil {
		return fmt.Errorf("reading TOC: %w", err)
	}
	c.reader.ReadCDText(ctx)

	c.reader.SetLevel(disc.Level(c.cfg.Disc.Level))
	level := c.reader.Level()

	if !level.Streaming() {
		if err := c.reader.CheckRAM(); err != nil {
			return err
		}
		progress := func(track, total int, status string) {
			c.forEachSub(func(s *Subscription) {
				s.sendLoading(LoadProgress{Track: track, Total: total, Status: status})
			})
		}
		if err := c.reader.RipToRAM(ctx, progress); err != nil {
			c.reader.Cleanup()
			return fmt.Errorf("extracting disc: %w", err)
		}
	}

	tp, err := c.newTransport(level)
	if err != nil {
		c.reader.Cleanup()
		return fmt.Errorf("starting transport: %w", err)
	}

	c.mu.Lock()
	c.tp = tp
	c.seq.SetTotalTracks(len(tracks))
	c.stopArmed = false

	start := 0
	if c.store != nil {
		if r, err := c.store.GetResume(c.reader.DiscID()); err != nil {
			c.log.Warn("resume lookup failed", zap.Error(err))
		} else if r != nil {
			c.seq.SetRepeatMode(sequencer.RepeatMode(r.RepeatMode))
			c.seq.SetShuffle(r.Shuffle)
			if c.seq.Goto(r.LastTrack) {
				start = r.LastTrack
			}
			c.log.Info("resuming disc",
				zap.String("disc_id", r.DiscID),
				zap.Int("track", r.LastTrack+1))
		}
	}

	c.loopStop = make(chan struct{})
	c.loopDone = make(chan struct{})
	go c.eventLoop(tp, c.loopStop, c.loopDone)

	autoPlay := c.cfg.AutoplayFor(int(level))
	if err := tp.NavigateTo(start, autoPlay); err != nil {
		c.mu.Unlock()
		c.unload()
		return fmt.Errorf("navigating to track %d: %w", start+1, err)
	}
	c.broadcastTrackLocked(start)
	if autoPlay {
		c.broadcastState(transport.Stopped, transport.Playing)
	}
	c.preloadLocked()
	c.saveResumeLocked()
	c.mu.Unlock()

	c.log.Info("disc loaded",
		zap.String("disc_id", c.reader.DiscID()),
		zap.String("title", c.reader.DiscTitle()),
		zap.Int("tracks", len(tracks)),
		zap.Stringer("level", level),
		zap.Bool("autoplay", autoPlay))
	return nil
}

// wakeDrive sends the SuperDrive wake sequence when the drive needs
// it. An Apple SuperDrive ignores discs until woken after each power
// cycle, so this must happen before the disc probe.
func (c *Controller) wakeDrive(ctx context.Context) {
	if c.drive == nil {
		return
	}
	if !c.drive.Detect(ctx) || !c.drive.NeedsWake() {
		return
	}
	c.forEachSub(func(s *Subscription) {
		s.sendLoading(LoadProgress{Status: "waking"})
	})
	if !c.drive.Enable(ctx) {
		c.log.Warn("drive wake failed, trying to read anyway",
			zap.String("drive", c.drive.DisplayName()))
	}
}

// Loaded reports whether a disc is ready for playback.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tp != nil
}

// Play starts or resumes playback of the current track.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return ErrNoDiscLoaded
	}
	prev := c.tp.State()
	if err := c.tp.Play(); err != nil {
		c.broadcastError("play", err)
		return err
	}
	if prev != transport.Playing {
		c.broadcastState(prev, transport.Playing)
	}
	return nil
}

// Pause suspends playback, keeping the position.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return
	}
	if c.tp.State() != transport.Playing {
		return
	}
	c.tp.Pause()
	c.broadcastState(transport.Playing, transport.Paused)
}

// Stop halts playback at the start of the current track. With the
// double stop option enabled, a second Stop inside the configured
// window returns to the first track.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return
	}
	prev := c.tp.State()
	c.tp.Stop()
	if prev != transport.Stopped {
		c.broadcastState(prev, transport.Stopped)
	}

	if !c.cfg.Playback.DoubleStop {
		return
	}
	now := time.Now()
	if c.stopArmed && now.Sub(c.lastStop) <= c.cfg.Playback.Window() {
		c.stopArmed = false
		if c.seq.CurrentIndex() != 0 {
			c.seq.Goto(0)
			if err := c.tp.NavigateTo(0, false); err != nil {
				c.broadcastError("stop", err)
				return
			}
			c.broadcastTrackLocked(0)
			c.preloadLocked()
			c.saveResumeLocked()
		}
		return
	}
	c.stopArmed = true
	c.lastStop = now
}

// Next advances to the following track and plays it. At the end of the
// sequence without repeat it does nothing.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return ErrNoDiscLoaded
	}
	next, ok := c.seq.Advance()
	if !ok {
		return nil
	}
	return c.navigateLocked(next, true)
}

// Prev restarts the current track when playback is past the restart
// threshold, otherwise it moves to the previous track. At the first
// track it restarts regardless.
func (c *Controller) Prev() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return ErrNoDiscLoaded
	}
	st := c.tp.State()
	if st != transport.Stopped && c.tp.Position() > c.cfg.Playback.PrevRestart() {
		c.tp.Seek(0)
		return nil
	}
	prev, ok := c.seq.Retreat()
	if !ok {
		c.tp.Seek(0)
		return nil
	}
	return c.navigateLocked(prev, st == transport.Playing)
}

// Goto jumps to the given 0-based track index and plays it.
func (c *Controller) Goto(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return ErrNoDiscLoaded
	}
	if !c.seq.Goto(index) {
		return fmt.Errorf("controller: track %d out of range", index+1)
	}
	return c.navigateLocked(index, true)
}

// Seek moves to an absolute position within the current track.
func (c *Controller) Seek(pos time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return
	}
	c.tp.Seek(pos)
}

// navigateLocked makes index current on the transport and refreshes
// preload and saved state. Callers hold c.mu and have already
// committed index to the sequencer.
func (c *Controller) navigateLocked(index int, autoPlay bool) error {
	prev := c.tp.State()
	if err := c.tp.NavigateTo(index, autoPlay); err != nil {
		c.broadcastError("navigate", err)
		return err
	}
	c.broadcastTrackLocked(index)
	if autoPlay && prev != transport.Playing {
		c.broadcastState(prev, transport.Playing)
	}
	c.preloadLocked()
	c.saveResumeLocked()
	return nil
}

// ToggleShuffle flips shuffle mode and returns the new state.
func (c *Controller) ToggleShuffle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	on := c.seq.ToggleShuffle()
	c.modeChangedLocked()
	return on
}

// SetShuffle forces shuffle to the given state.
func (c *Controller) SetShuffle(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq.SetShuffle(enabled)
	c.modeChangedLocked()
}

// CycleRepeat steps the repeat mode and returns the new one.
func (c *Controller) CycleRepeat() sequencer.RepeatMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	mode := c.seq.CycleRepeat()
	c.modeChangedLocked()
	return mode
}

// SetRepeatMode sets the repeat mode directly.
func (c *Controller) SetRepeatMode(mode sequencer.RepeatMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq.SetRepeatMode(mode)
	c.modeChangedLocked()
}

// modeChangedLocked broadcasts the new modes and refreshes what the
// transport has queued, since a mode change can change the upcoming
// track.
func (c *Controller) modeChangedLocked() {
	mode := c.seq.RepeatMode()
	shuffle := c.seq.Shuffle()
	c.forEachSub(func(s *Subscription) {
		s.sendMode(ModeChange{RepeatMode: mode, Shuffle: shuffle})
	})
	if c.tp != nil {
		c.preloadLocked()
		c.saveResumeLocked()
	}
}

// State reports the transport state, Stopped when nothing is loaded.
func (c *Controller) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return transport.Stopped
	}
	return c.tp.State()
}

// Position reports the playback position within the current track.
func (c *Controller) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return 0
	}
	return c.tp.Position()
}

// Duration reports the length of the current track.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return 0
	}
	return c.tp.Duration()
}

// CurrentIndex returns the current 0-based track index.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq.CurrentIndex()
}

// CurrentTrack returns the current track's TOC entry.
func (c *Controller) CurrentTrack() (disc.Track, bool) {
	c.mu.Lock()
	idx := c.seq.CurrentIndex()
	c.mu.Unlock()
	tracks := c.reader.Tracks()
	if idx < 0 || idx >= len(tracks) {
		return disc.Track{}, false
	}
	return tracks[idx], true
}

// Tracks returns the loaded disc's TOC.
func (c *Controller) Tracks() []disc.Track { return c.reader.Tracks() }

// RepeatMode returns the active repeat mode.
func (c *Controller) RepeatMode() sequencer.RepeatMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq.RepeatMode()
}

// Shuffle reports whether shuffle is enabled.
func (c *Controller) Shuffle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq.Shuffle()
}

// Eject unloads the disc and opens the drive tray: playback stops,
// the transport is released, the extracted files are removed and the
// physical eject command runs. A tray failure is logged, not
// returned, since the software unload already succeeded.
func (c *Controller) Eject(ctx context.Context) {
	c.mu.Lock()
	hadTransport := c.tp != nil
	st := transport.Stopped
	if hadTransport {
		st = c.tp.State()
	}
	c.mu.Unlock()

	c.unload()
	if hadTransport && st != transport.Stopped {
		c.broadcastState(st, transport.Stopped)
	}
	if c.drive != nil {
		if err := c.drive.Eject(ctx); err != nil {
			c.log.Warn("tray eject failed", zap.Error(err))
		}
	}
}

// Close releases the transport and closes all subscriptions. The
// controller must not be used afterwards.
func (c *Controller) Close() {
	c.unload()
	c.subMu.Lock()
	for _, s := range c.subs {
		s.close()
	}
	c.subs = nil
	c.subMu.Unlock()
}

// unload tears the current transport down. The event loop is joined
// outside c.mu because its handlers take the lock.
func (c *Controller) unload() {
	c.mu.Lock()
	tp := c.tp
	stop := c.loopStop
	done := c.loopDone
	c.tp = nil
	c.loopStop = nil
	c.loopDone = nil
	c.seq.SetTotalTracks(0)
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if tp != nil {
		tp.Close()
	}
	c.reader.Cleanup()
}

// eventLoop consumes the transport's event stream until stop closes.
func (c *Controller) eventLoop(tp transport.Transport, stop, done chan struct{}) {
	defer close(done)
	events := tp.Events()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EventTrackEnd:
				c.handleTrackEnd(ev)
			case transport.EventFault:
				c.handleFault(ev)
			}
		}
	}
}

// handleTrackEnd advances the sequencer when a track finishes. When
// the engine already swapped to the preloaded track and it matches the
// sequencer's answer, the navigation call is skipped so the gapless
// handoff is not interrupted.
func (c *Controller) handleTrackEnd(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return
	}

	next, ok := c.seq.Advance()
	if !ok {
		// End of disc: back to the first track, stopped.
		c.seq.Goto(0)
		if err := c.tp.NavigateTo(0, false); err != nil {
			c.broadcastError("disc end", err)
		}
		c.broadcastTrackLocked(0)
		c.broadcastState(transport.Playing, transport.Stopped)
		c.forEachSub(func(s *Subscription) { s.sendDiscEnded() })
		c.preloadLocked()
		c.saveResumeLocked()
		c.log.Info("disc finished", zap.Int("last_track", ev.Index+1))
		return
	}

	if ev.SelfAdvanced && c.tp.CurrentIndex() == next {
		c.broadcastTrackLocked(next)
	} else {
		if err := c.tp.NavigateTo(next, true); err != nil {
			c.broadcastError("advance", err)
			return
		}
		c.broadcastTrackLocked(next)
	}
	c.preloadLocked()
	c.saveResumeLocked()
}

// handleFault reports an engine fault. The engine has already forced
// itself to Stopped; no automatic recovery is attempted.
func (c *Controller) handleFault(ev transport.Event) {
	c.log.Error("transport fault", zap.Error(ev.Err), zap.Int("track", ev.Index+1))
	c.broadcastError("transport", ev.Err)
	c.broadcastState(transport.Playing, transport.Stopped)
}

// preloadLocked tells the transport what comes next so engines with
// buffer preloading can stage it.
func (c *Controller) preloadLocked() {
	if next, ok := c.seq.NextForPreload(); ok {
		if err := c.tp.PrepareNext(next); err != nil {
			c.log.Warn("preload failed", zap.Int("track", next+1), zap.Error(err))
		}
		return
	}
	c.tp.ClearNext()
}

func (c *Controller) saveResumeLocked() {
	if c.store == nil {
		return
	}
	id := c.reader.DiscID()
	if id == "" {
		return
	}
	c.store.SaveResume(state.Resume{
		DiscID:     id,
		Title:      c.reader.DiscTitle(),
		Artist:     c.reader.DiscArtist(),
		LastTrack:  c.seq.CurrentIndex(),
		RepeatMode: int(c.seq.RepeatMode()),
		Shuffle:    c.seq.Shuffle(),
		SavedAt:    time.Now(),
	})
}

func (c *Controller) broadcastTrackLocked(index int) {
	tracks := c.reader.Tracks()
	if index < 0 || index >= len(tracks) {
		return
	}
	ev := TrackChange{Index: index, Total: len(tracks), Track: tracks[index]}
	c.forEachSub(func(s *Subscription) { s.sendTrack(ev) })
}

func (c *Controller) broadcastState(prev, cur transport.State) {
	c.forEachSub(func(s *Subscription) {
		s.sendState(StateChange{Previous: prev, Current: cur})
	})
}

func (c *Controller) broadcastError(op string, err error) {
	c.forEachSub(func(s *Subscription) {
		s.sendError(ErrorEvent{Operation: op, Err: err})
	})
}

func (c *Controller) forEachSub(fn func(*Subscription)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range c.subs {
		fn(s)
	}
}

// buildTransport picks the engine for the extraction level: mpv
// streaming straight off the disc for level 0, the in-memory buffered
// engine for everything else.
func (c *Controller) buildTransport(level disc.Level) (transport.Transport, error) {
	if level.Streaming() {
		mcfg := mpv.Config{
			Binary:           c.cfg.MPV.Binary,
			DiscDevice:       c.cfg.Disc.Device,
			AudioDevice:      c.cfg.Audio.Device,
			SocketPath:       c.cfg.MPV.SocketPath,
			SocketWait:       c.cfg.MPV.SocketWait(),
			RequestTimeout:   c.cfg.MPV.RequestTimeout(),
			StartTimeout:     c.cfg.MPV.StartTimeout(),
			StartPoll:        c.cfg.MPV.StartPoll(),
			StartEpsilon:     c.cfg.MPV.StartEpsilon(),
			PollInterval:     c.cfg.MPV.PollInterval(),
			PositionCacheTTL: c.cfg.MPV.PositionCache(),
			LoadSettle:       c.cfg.MPV.LoadSettle(),
			JoinTimeout:      c.cfg.MPV.JoinTimeout(),
		}
		return mpv.New(mcfg, c.reader.Durations(), c.log.Named("mpv")), nil
	}

	format := sink.Format{
		SampleRate: c.cfg.Audio.SampleRate,
		Channels:   c.cfg.Audio.Channels,
		BitDepth:   c.cfg.Audio.BitDepth,
	}
	open := func() (sink.Sink, error) {
		return sink.OpenPortAudio(format, c.cfg.Audio.FramesPerBurst)
	}
	bcfg := buffered.Config{Format: format, ChunkFrames: c.cfg.Audio.ChunkFrames}
	return buffered.New(bcfg, open, c.reader.TrackData, len(c.reader.Tracks()), c.log.Named("buffered")), nil
}
