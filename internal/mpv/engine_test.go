package mpv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mjoubert/ramcd/internal/transport"
)

var testDurations = []time.Duration{10 * time.Second, 20 * time.Second, 5 * time.Second}

func newTestEngine(t *testing.T, f *fakeMPV) *Engine {
	t.Helper()
	cfg := Config{
		SocketPath:     f.path,
		RequestTimeout: time.Second,
		StartTimeout:   time.Second,
		PollInterval:   10 * time.Millisecond,
		StartPoll:      5 * time.Millisecond,
		LoadSettle:     time.Millisecond,
		JoinTimeout:    time.Second,
	}
	e := New(cfg, testDurations, zap.NewNop())
	t.Cleanup(e.Close)
	return e
}

func waitEvent(t *testing.T, e *Engine) transport.Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transport event")
		return transport.Event{}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNavigateTo_OutOfRange(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	assert.Error(t, e.NavigateTo(-1, true))
	assert.Error(t, e.NavigateTo(len(testDurations), true))
}

func TestNavigateTo_LoadsDiscOnFirstUse(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	// Fresh mpv: no path loaded yet, so a full disc load is needed.
	require.NoError(t, e.NavigateTo(0, true))

	assert.Equal(t, transport.Playing, e.State())
	assert.Equal(t, 0, e.CurrentIndex())
	assert.Contains(t, f.commandNames(), "loadfile")
}

func TestNavigateTo_ChapterSeeksWhenDiscLoaded(t *testing.T) {
	f := newFakeMPV(t)
	f.set("path", "cdda:///dev/sr0")
	f.set("core-idle", false)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(1, true))

	names := f.commandNames()
	assert.NotContains(t, names, "loadfile", "a loaded disc only needs a chapter seek")
	assert.Contains(t, names, "set_property")
}

func TestNavigateTo_WithoutAutoplayJustRecordsIndex(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(2, false))

	assert.Equal(t, transport.Stopped, e.State())
	assert.Equal(t, 2, e.CurrentIndex())
}

func TestMonitor_ChapterChangeEndsTrack(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(0, true))

	// Audio for track 0 becomes audible.
	f.set("time-pos", 1.0)
	f.set("chapter", float64(0))
	waitFor(t, func() bool { return e.Position() > 0 }, "audio start never detected")

	// mpv rolls into the next chapter on its own.
	f.set("chapter", float64(1))

	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventTrackEnd, ev.Kind)
	assert.Equal(t, 0, ev.Index)
	assert.False(t, ev.SelfAdvanced, "the process engine never self-advances the transport index")
	assert.Equal(t, transport.Stopped, e.State())
}

func TestMonitor_EOFEndsTrack(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(2, true))

	// Track 2 starts 30s into the disc.
	f.set("time-pos", 31.0)
	f.set("chapter", float64(2))
	waitFor(t, func() bool { return e.Position() > 0 }, "audio start never detected")

	f.set("eof-reached", true)

	ev := waitEvent(t, e)
	assert.Equal(t, transport.EventTrackEnd, ev.Kind)
	assert.Equal(t, 2, ev.Index)
}

func TestStop_ReturnsWithinBoundAndEmitsNoEvent(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	// time-pos never appears, so the monitor sits in its start-
	// detection poll.
	require.NoError(t, e.NavigateTo(0, true))

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.JoinTimeout + 500*time.Millisecond):
		t.Fatal("Stop() exceeded the monitor join bound")
	}

	assert.Equal(t, transport.Stopped, e.State())
	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected event after Stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPause_FreezesPosition(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(0, true))
	f.set("time-pos", 2.0)
	f.set("chapter", float64(0))
	waitFor(t, func() bool { return e.Position() > 0 }, "audio start never detected")

	e.Pause()
	require.Equal(t, transport.Paused, e.State())
	frozen := e.Position()

	// Process time keeps moving but the paused readout must not.
	f.set("time-pos", 8.0)
	assert.Equal(t, frozen, e.Position())

	require.NoError(t, e.Play())
	assert.Equal(t, transport.Playing, e.State())
}

func TestSeek_TranslatesToAbsolutePosition(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(1, true))
	f.set("time-pos", 10.5)
	f.set("chapter", float64(1))
	waitFor(t, func() bool { return e.Position() > 0 }, "audio start never detected")

	e.Seek(5 * time.Second)

	var seek []any
	for _, c := range f.commands() {
		if c[0] == "seek" {
			seek = c
		}
	}
	require.NotNil(t, seek, "no seek command reached the process")
	// Track 1 starts at 10s, so 5s in means 15s absolute.
	assert.InDelta(t, 15.0, seek[1].(float64), 1e-9)
	assert.Equal(t, "absolute", seek[2])
}

func TestSeek_NoEffectWhileStopped(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	e.Seek(3 * time.Second)
	assert.Empty(t, f.commands())
	assert.Equal(t, time.Duration(0), e.Position())
}

func TestSeek_RejectsOutOfRange(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(2, true))
	before := len(f.commands())

	e.Seek(time.Hour)
	var seeks int
	for _, c := range f.commands()[before:] {
		if c[0] == "seek" {
			seeks++
		}
	}
	assert.Zero(t, seeks)
}

func TestPosition_UnreachableSocketReturnsStaleValue(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.NavigateTo(0, true))
	f.set("time-pos", 3.0)
	f.set("chapter", float64(0))
	waitFor(t, func() bool { return e.Position() > 0 }, "audio start never detected")

	last := e.Position()
	f.close()
	time.Sleep(e.cfg.PositionCacheTTL + 50*time.Millisecond)

	assert.Equal(t, last, e.Position(), "queries should degrade to the cached position")
}

func TestDuration_TracksDiscTOC(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	assert.Equal(t, time.Duration(0), e.Duration())

	require.NoError(t, e.NavigateTo(1, false))
	assert.Equal(t, 20*time.Second, e.Duration())
}

func TestTrackCount(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)
	assert.Equal(t, 3, e.TrackCount())
}

func TestPrepareNext_IsANoOp(t *testing.T) {
	f := newFakeMPV(t)
	e := newTestEngine(t, f)

	require.NoError(t, e.PrepareNext(1))
	e.ClearNext()
	assert.Empty(t, f.commands())
}
