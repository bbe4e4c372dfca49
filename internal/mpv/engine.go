package mpv

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mjoubert/ramcd/internal/transport"
)

// Config carries the engine's fixed parameters. Zero values get
// sensible defaults in withDefaults.
type Config struct {
	Binary      string // mpv executable
	DiscDevice  string // optical drive, e.g. /dev/sr0
	AudioDevice string // ALSA device name

	// SocketPath, when set, points at an already-running mpv's IPC
	// socket: the engine neither spawns nor kills the process. Used
	// for debugging against a live instance.
	SocketPath string

	SocketWait     time.Duration // bound on waiting for the IPC socket after spawn
	RequestTimeout time.Duration // per IPC request
	StartTimeout   time.Duration // bound on waiting for audible playback
	PollInterval   time.Duration // end-detection poll period
	StartPoll      time.Duration // start-detection poll period
	LoadSettle     time.Duration // delay between disc load and first chapter seek
	JoinTimeout    time.Duration // bound on monitor shutdown

	// StartEpsilon is how far past a chapter start the reported time
	// position must move before playback counts as audible. Chapter
	// seeks are acknowledged before any audio comes out.
	StartEpsilon time.Duration

	// PositionCacheTTL bounds IPC traffic from position readouts.
	PositionCacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "mpv"
	}
	if c.DiscDevice == "" {
		c.DiscDevice = "/dev/sr0"
	}
	if c.AudioDevice == "" {
		c.AudioDevice = "default"
	}
	if c.SocketWait <= 0 {
		c.SocketWait = 3 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 300 * time.Millisecond
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 20 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.StartPoll <= 0 {
		c.StartPoll = 100 * time.Millisecond
	}
	if c.LoadSettle <= 0 {
		c.LoadSettle = 500 * time.Millisecond
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = time.Second
	}
	if c.StartEpsilon <= 0 {
		c.StartEpsilon = 100 * time.Millisecond
	}
	if c.PositionCacheTTL <= 0 {
		c.PositionCacheTTL = 200 * time.Millisecond
	}
	return c
}

// Engine streams disc chapters through an external mpv process.
//
// mu guards all mutable state. The IPC client has its own mutex, so
// the monitor goroutine polls without holding mu.
type Engine struct {
	cfg    Config
	log    *zap.Logger
	starts []time.Duration // cumulative chapter start offsets
	durs   []time.Duration

	mu         sync.Mutex
	state      transport.State
	currentIdx int
	started    bool // audio confirmed for the current track
	pausePos   time.Duration
	cachedPos  time.Duration
	cachedAt   time.Time

	client      *Client
	proc        *exec.Cmd
	procDone    chan struct{}
	socketPath  string
	ownsProcess bool

	monitorStop chan struct{}
	monitorDone chan struct{}

	events chan transport.Event
}

var _ transport.Transport = (*Engine)(nil)

// New creates a stopped engine for a disc whose track lengths are
// durations, in disc order.
func New(cfg Config, durations []time.Duration, log *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	starts := make([]time.Duration, len(durations))
	var acc time.Duration
	for i, d := range durations {
		starts[i] = acc
		acc += d
	}
	return &Engine{
		cfg:        cfg,
		log:        log.Named("mpv"),
		starts:     starts,
		durs:       durations,
		currentIdx: -1,
		events:     make(chan transport.Event, transport.EventBufferSize),
	}
}

// Events exposes the track-end / fault stream.
func (e *Engine) Events() <-chan transport.Event { return e.events }

// NavigateTo selects the chapter for index. With autoPlay it loads or
// chapter-seeks the disc and starts the monitor; without, it stops
// whatever is playing and just records the index for a later Play.
func (e *Engine) NavigateTo(index int, autoPlay bool) error {
	if index < 0 || index >= len(e.durs) {
		return fmt.Errorf("mpv: track index %d out of range [0,%d)", index, len(e.durs))
	}
	if !autoPlay {
		e.Stop()
		e.mu.Lock()
		e.currentIdx = index
		e.mu.Unlock()
		return nil
	}
	return e.playTrack(index)
}

// PrepareNext is a no-op: mpv reads the disc directly and has nothing
// to preload.
func (e *Engine) PrepareNext(int) error { return nil }

// ClearNext is a no-op.
func (e *Engine) ClearNext() {}

func (e *Engine) playTrack(index int) error {
	e.stopMonitor()

	if err := e.ensureProcess(); err != nil {
		return err
	}

	e.mu.Lock()
	e.currentIdx = index
	e.state = transport.Playing
	e.started = false
	e.cachedPos = 0
	e.cachedAt = time.Time{}
	client := e.client
	e.mu.Unlock()

	discURL := "cdda://" + e.cfg.DiscDevice
	path, _ := client.GetString("path")
	idle, idleOK := client.GetBool("core-idle")

	if path == discURL && idleOK && !idle {
		// Disc already loaded and decoding; a chapter seek is cheap.
		e.log.Debug("chapter seek", zap.Int("chapter", index))
		if err := client.SetProperty("chapter", index); err != nil {
			e.log.Warn("chapter seek failed", zap.Error(err))
		}
	} else {
		resp, err := client.Command("loadfile", discURL, "replace")
		if err != nil || !resp.OK() {
			e.mu.Lock()
			e.state = transport.Stopped
			e.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("mpv: loadfile: %s", resp.Err)
			}
			return err
		}
		if index > 0 {
			// An idle-mode mpv needs a beat between loading a disc
			// URL and accepting chapter seeks.
			time.Sleep(e.cfg.LoadSettle)
			if err := client.SetProperty("chapter", index); err != nil {
				e.log.Warn("chapter seek after load failed", zap.Error(err))
			}
		}
	}

	if err := client.SetProperty("pause", false); err != nil {
		e.log.Debug("unpause", zap.Error(err))
	}

	e.log.Info("playing track", zap.Int("index", index))

	stop := make(chan struct{})
	done := make(chan struct{})
	e.mu.Lock()
	e.monitorStop = stop
	e.monitorDone = done
	e.mu.Unlock()
	go e.monitor(index, stop, done)

	return nil
}

// Play resumes from pause, or starts the current track from Stopped.
func (e *Engine) Play() error {
	e.mu.Lock()
	state := e.state
	idx := e.currentIdx
	client := e.client
	e.mu.Unlock()

	switch state {
	case transport.Playing:
		return nil
	case transport.Paused:
		if err := client.SetProperty("pause", false); err != nil {
			return err
		}
		e.mu.Lock()
		e.state = transport.Playing
		e.mu.Unlock()
		e.log.Info("resumed")
		return nil
	default:
		if idx < 0 {
			idx = 0
		}
		return e.playTrack(idx)
	}
}

// Pause freezes playback and captures the position so readouts stay
// stable while paused.
func (e *Engine) Pause() {
	pos := e.Position()

	e.mu.Lock()
	if e.state != transport.Playing {
		e.mu.Unlock()
		return
	}
	e.state = transport.Paused
	e.pausePos = pos
	client := e.client
	e.mu.Unlock()

	if err := client.SetProperty("pause", true); err != nil {
		e.log.Debug("pause", zap.Error(err))
	}
	e.log.Info("paused", zap.Duration("position", pos))
}

// Stop halts the external player and joins the monitor.
func (e *Engine) Stop() {
	e.stopMonitor()

	e.mu.Lock()
	client := e.client
	e.state = transport.Stopped
	e.started = false
	e.pausePos = 0
	e.cachedPos = 0
	e.cachedAt = time.Time{}
	e.mu.Unlock()

	if client != nil {
		if _, err := client.Command("stop"); err != nil {
			e.log.Debug("stop command", zap.Error(err))
		}
	}
	e.log.Info("stopped")
}

// Seek jumps within the current track. It has no effect while
// Stopped.
func (e *Engine) Seek(pos time.Duration) {
	e.mu.Lock()
	state := e.state
	idx := e.currentIdx
	client := e.client
	e.mu.Unlock()

	if state == transport.Stopped || idx < 0 || client == nil {
		return
	}
	if pos < 0 || pos > e.durs[idx] {
		e.log.Warn("seek out of range", zap.Duration("position", pos))
		return
	}

	abs := e.starts[idx] + pos
	if _, err := client.Command("seek", abs.Seconds(), "absolute"); err != nil {
		e.log.Warn("seek failed", zap.Error(err))
		return
	}

	e.mu.Lock()
	e.cachedPos = pos
	e.cachedAt = time.Now()
	if e.state == transport.Paused {
		e.pausePos = pos
	}
	e.mu.Unlock()
}

// Position reports the chapter-relative play position. While Playing
// it is polled from the process and cached briefly to bound IPC
// traffic; while Paused it is the position captured at pause time.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	state := e.state
	idx := e.currentIdx
	started := e.started
	cached := e.cachedPos
	cachedAt := e.cachedAt
	pausePos := e.pausePos
	client := e.client
	e.mu.Unlock()

	switch state {
	case transport.Paused:
		return pausePos
	case transport.Playing:
		if !started {
			return 0
		}
		if time.Since(cachedAt) < e.cfg.PositionCacheTTL {
			return cached
		}
		raw, ok := client.GetFloat("time-pos")
		if !ok {
			return cached // socket unreachable: stale beats wrong
		}
		pos := secondsToDuration(raw) - e.starts[idx]
		if pos < 0 {
			return cached
		}
		e.mu.Lock()
		e.cachedPos = pos
		e.cachedAt = time.Now()
		e.mu.Unlock()
		return pos
	default:
		return 0
	}
}

// Duration reports the current track's length from the disc TOC.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentIdx < 0 || e.currentIdx >= len(e.durs) {
		return 0
	}
	return e.durs[e.currentIdx]
}

// State reports the transport state.
func (e *Engine) State() transport.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentIndex reports the 0-based track index, -1 before any
// NavigateTo.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentIdx
}

// TrackCount reports the number of disc tracks.
func (e *Engine) TrackCount() int { return len(e.durs) }

// monitor watches the external process for the lifetime of one track.
// Phase one confirms audio has actually begun; phase two watches for
// the chapter boundary or end of disc.
func (e *Engine) monitor(index int, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	e.log.Debug("monitor started", zap.Int("index", index))

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	chapterStart := e.starts[index]
	deadline := time.Now().Add(e.cfg.StartTimeout)

startWait:
	for {
		select {
		case <-stop:
			return
		default:
		}

		if raw, ok := client.GetFloat("time-pos"); ok {
			trackPos := secondsToDuration(raw) - chapterStart
			if trackPos > e.cfg.StartEpsilon {
				e.mu.Lock()
				e.started = true
				e.mu.Unlock()
				e.log.Info("audio started", zap.Int("index", index), zap.Duration("position", trackPos))
				break startWait
			}
		}

		if time.Now().After(deadline) {
			// Assume it started rather than hang here forever.
			e.log.Warn("timeout waiting for audio", zap.Int("index", index))
			e.mu.Lock()
			e.started = true
			e.mu.Unlock()
			break startWait
		}

		select {
		case <-stop:
			return
		case <-time.After(e.cfg.StartPoll):
		}
	}

	// Let the chapter property settle past the seek before trusting
	// it for end detection.
	select {
	case <-stop:
		return
	case <-time.After(e.cfg.PollInterval):
	}

	for {
		if chapter, ok := client.GetInt("chapter"); ok && chapter != index {
			e.handleTrackEnd(index, fmt.Sprintf("chapter changed to %d", chapter+1))
			return
		}
		if eof, ok := client.GetBool("eof-reached"); ok && eof {
			e.handleTrackEnd(index, "end of disc")
			return
		}

		select {
		case <-stop:
			e.log.Debug("monitor stopped", zap.Int("index", index))
			return
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// handleTrackEnd fires at most once per natural track end. The event
// channel decouples delivery from the monitor goroutine, so a
// consumer calling back into Stop cannot deadlock on the monitor
// join.
func (e *Engine) handleTrackEnd(index int, reason string) {
	e.mu.Lock()
	if e.state != transport.Playing {
		e.mu.Unlock()
		return
	}
	e.state = transport.Stopped
	e.started = false
	e.mu.Unlock()

	e.log.Info("track ended", zap.Int("index", index), zap.String("reason", reason))
	e.emit(transport.Event{Kind: transport.EventTrackEnd, Index: index})
}

func (e *Engine) emit(ev transport.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("event buffer full, dropping", zap.Int("kind", int(ev.Kind)))
	}
}

// stopMonitor signals the monitor goroutine and joins it with a
// bounded timeout.
func (e *Engine) stopMonitor() {
	e.mu.Lock()
	stop := e.monitorStop
	done := e.monitorDone
	e.monitorStop = nil
	e.monitorDone = nil
	e.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(e.cfg.JoinTimeout):
		e.log.Warn("monitor did not stop in time")
	}
}

// ensureProcess lazily spawns mpv and waits a bounded time for its
// IPC socket to appear. Past the timeout it proceeds anyway; the
// client degrades to returning unavailable values until the socket
// comes up.
func (e *Engine) ensureProcess() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.SocketPath != "" {
		if e.client == nil {
			e.socketPath = e.cfg.SocketPath
			e.client = NewClient(e.socketPath, e.cfg.RequestTimeout)
		}
		return nil
	}

	if e.proc != nil {
		select {
		case <-e.procDone:
			// Crashed outside cleanup. Deliberately not restarted: a
			// backend that died mid-disc should surface as stuck, not
			// resume in some other chapter.
			e.log.Warn("mpv process exited unexpectedly")
		default:
			return nil
		}
	}

	e.socketPath = filepath.Join(os.TempDir(), fmt.Sprintf("ramcd-mpv-%d.sock", time.Now().UnixNano()))

	cmd := exec.Command(e.cfg.Binary,
		"--idle=yes",
		"--no-video",
		"--ao=alsa",
		"--audio-device=alsa/"+e.cfg.AudioDevice,
		"--audio-pitch-correction=no",
		"--audio-normalize-downmix=no",
		"--replaygain=no",
		"--volume=100",
		"--volume-max=100",
		"--af=",
		"--no-terminal",
		"--really-quiet",
		"--input-ipc-server="+e.socketPath,
	)
	e.log.Debug("starting mpv", zap.String("socket", e.socketPath))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mpv: start %s: %w", e.cfg.Binary, err)
	}

	e.proc = cmd
	e.ownsProcess = true
	done := make(chan struct{})
	e.procDone = done
	go func() {
		cmd.Wait()
		close(done)
	}()

	waitDeadline := time.Now().Add(e.cfg.SocketWait)
	for {
		if _, err := os.Stat(e.socketPath); err == nil {
			// Give mpv a beat to start accepting connections.
			time.Sleep(100 * time.Millisecond)
			break
		}
		if time.Now().After(waitDeadline) {
			e.log.Warn("mpv IPC socket not ready, proceeding anyway",
				zap.Duration("waited", e.cfg.SocketWait))
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	e.client = NewClient(e.socketPath, e.cfg.RequestTimeout)
	return nil
}

// Close shuts down the external process: quit over IPC, then
// SIGTERM, then SIGKILL. The socket file is removed on every path.
func (e *Engine) Close() {
	e.stopMonitor()

	e.mu.Lock()
	client := e.client
	proc := e.proc
	procDone := e.procDone
	socketPath := e.socketPath
	owns := e.ownsProcess
	e.client = nil
	e.proc = nil
	e.state = transport.Stopped
	e.mu.Unlock()

	if client != nil {
		if owns && proc != nil {
			client.Command("quit")
		}
		client.Close()
	}

	if owns && proc != nil {
		select {
		case <-procDone:
		case <-time.After(2 * time.Second):
			e.log.Warn("mpv not responding to quit, terminating")
			proc.Process.Signal(syscall.SIGTERM)
			select {
			case <-procDone:
			case <-time.After(time.Second):
				e.log.Warn("force killing mpv")
				proc.Process.Kill()
				<-procDone
			}
		}
		if socketPath != "" {
			os.Remove(socketPath)
		}
	}

	e.log.Info("closed")
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
