// Package sequencer computes track navigation targets independently of
// any playback backend. It does no I/O: the controller asks it what
// should play next and then drives the active transport.
//
// All indices are 0-based. The controller converts to 1-based track
// numbers for display and for the disc data provider.
package sequencer

import "math/rand/v2"

// RepeatMode defines the repeat behavior.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatTrack
	RepeatAll
)

// String returns the repeat mode name.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "Off"
	case RepeatTrack:
		return "Track"
	case RepeatAll:
		return "All"
	default:
		return "Unknown"
	}
}

// Sequencer tracks the current position within a disc and computes
// next/previous targets under the active shuffle and repeat modes.
//
// Invariant: while shuffle is on, currentIndex == shuffleOrder[shufflePos].
type Sequencer struct {
	repeatMode   RepeatMode
	shuffleOn    bool
	totalTracks  int
	currentIndex int
	shuffleOrder []int
	shufflePos   int
}

// New creates an empty sequencer. Call SetTotalTracks when a disc is
// loaded.
func New() *Sequencer {
	return &Sequencer{}
}

// SetTotalTracks resets the sequencer for a freshly loaded disc:
// position back to 0, shuffle cleared, repeat off.
func (s *Sequencer) SetTotalTracks(n int) {
	if n < 0 {
		n = 0
	}
	s.totalTracks = n
	s.currentIndex = 0
	s.shuffleOrder = nil
	s.shufflePos = 0
	s.shuffleOn = false
	s.repeatMode = RepeatOff
}

// TotalTracks returns the track count.
func (s *Sequencer) TotalTracks() int { return s.totalTracks }

// CurrentIndex returns the current track index (0-based).
func (s *Sequencer) CurrentIndex() int { return s.currentIndex }

// RepeatMode returns the active repeat mode.
func (s *Sequencer) RepeatMode() RepeatMode { return s.repeatMode }

// Shuffle returns whether shuffle is enabled.
func (s *Sequencer) Shuffle() bool { return s.shuffleOn }

// NextTrack computes the next track index without committing it.
// Returns (index, true), or (0, false) at the end of the sequence.
//
// Repeat=Track pins the current index. Under shuffle with Repeat=All,
// exhausting the order generates a fresh permutation and returns its
// first entry.
func (s *Sequencer) NextTrack() (int, bool) {
	if s.totalTracks == 0 {
		return 0, false
	}

	if s.repeatMode == RepeatTrack {
		return s.currentIndex, true
	}

	if s.shuffleOn {
		nextPos := s.shufflePos + 1
		if nextPos >= len(s.shuffleOrder) {
			if s.repeatMode == RepeatAll {
				s.regenerateShuffle()
				return s.shuffleOrder[0], true
			}
			return 0, false
		}
		return s.shuffleOrder[nextPos], true
	}

	next := s.currentIndex + 1
	if next >= s.totalTracks {
		if s.repeatMode == RepeatAll {
			return 0, true
		}
		return 0, false
	}
	return next, true
}

// PrevTrack computes the previous track index without committing it.
// Previous never wraps, regardless of repeat mode: at the first
// position (shuffled or not) it returns false.
func (s *Sequencer) PrevTrack() (int, bool) {
	if s.totalTracks == 0 {
		return 0, false
	}

	if s.shuffleOn && len(s.shuffleOrder) > 0 {
		if s.shufflePos > 0 {
			return s.shuffleOrder[s.shufflePos-1], true
		}
		return 0, false
	}

	if s.currentIndex > 0 {
		return s.currentIndex - 1, true
	}
	return 0, false
}

// Advance commits the position one step forward and returns the new
// index. At an end-of-sequence with no repeat it returns false and
// leaves the position untouched.
func (s *Sequencer) Advance() (int, bool) {
	if s.totalTracks == 0 {
		return 0, false
	}

	if s.repeatMode == RepeatTrack {
		return s.currentIndex, true
	}

	if s.shuffleOn {
		nextPos := s.shufflePos + 1
		if nextPos >= len(s.shuffleOrder) {
			if s.repeatMode != RepeatAll {
				return 0, false
			}
			s.regenerateShuffle()
			nextPos = 0
		}
		s.shufflePos = nextPos
		s.currentIndex = s.shuffleOrder[nextPos]
		return s.currentIndex, true
	}

	next := s.currentIndex + 1
	if next >= s.totalTracks {
		if s.repeatMode != RepeatAll {
			return 0, false
		}
		next = 0
	}
	s.currentIndex = next
	return next, true
}

// Retreat commits the PrevTrack result and returns it.
func (s *Sequencer) Retreat() (int, bool) {
	prev, ok := s.PrevTrack()
	if !ok {
		return 0, false
	}
	s.currentIndex = prev
	if s.shuffleOn {
		s.shufflePos = max(0, s.shufflePos-1)
	}
	return prev, true
}

// Goto jumps directly to index. Returns false for an out-of-range
// index. With shuffle on, the cursor is resynchronized to the location
// of index within the shuffle order.
func (s *Sequencer) Goto(index int) bool {
	if index < 0 || index >= s.totalTracks {
		return false
	}
	s.currentIndex = index
	if s.shuffleOn {
		for pos, idx := range s.shuffleOrder {
			if idx == index {
				s.shufflePos = pos
				break
			}
		}
	}
	return true
}

// ToggleShuffle flips shuffle mode and returns the new state. Enabling
// always generates a fresh permutation, even when shuffle was just
// enabled before, and positions the cursor at the current track.
func (s *Sequencer) ToggleShuffle() bool {
	s.SetShuffle(!s.shuffleOn)
	return s.shuffleOn
}

// SetShuffle forces shuffle to the given state. Enabling when already
// enabled regenerates the order, mirroring ToggleShuffle.
func (s *Sequencer) SetShuffle(enabled bool) {
	if !enabled {
		s.shuffleOn = false
		s.shuffleOrder = nil
		s.shufflePos = 0
		return
	}
	s.shuffleOn = true
	s.regenerateShuffle()
	for pos, idx := range s.shuffleOrder {
		if idx == s.currentIndex {
			s.shufflePos = pos
			break
		}
	}
}

// CycleRepeat steps Off → Track → All → Off without moving the
// position, and returns the new mode.
func (s *Sequencer) CycleRepeat() RepeatMode {
	switch s.repeatMode {
	case RepeatOff:
		s.repeatMode = RepeatTrack
	case RepeatTrack:
		s.repeatMode = RepeatAll
	default:
		s.repeatMode = RepeatOff
	}
	return s.repeatMode
}

// SetRepeatMode sets the repeat mode directly.
func (s *Sequencer) SetRepeatMode(mode RepeatMode) {
	s.repeatMode = mode
}

// Reset moves back to track 0, regenerating the shuffle order if
// shuffle is active.
func (s *Sequencer) Reset() {
	s.currentIndex = 0
	s.shufflePos = 0
	if s.shuffleOn {
		s.regenerateShuffle()
	}
}

// NextForPreload computes what NextTrack would return, without any
// side effect, so the controller can decide what to preload. Unlike
// NextTrack it never regenerates the shuffle order: at the end of a
// shuffled sequence under Repeat=All it reports the first entry of the
// current order.
func (s *Sequencer) NextForPreload() (int, bool) {
	if s.totalTracks == 0 {
		return 0, false
	}

	if s.repeatMode == RepeatTrack {
		return s.currentIndex, true
	}

	if s.shuffleOn && len(s.shuffleOrder) > 0 {
		nextPos := s.shufflePos + 1
		if nextPos < len(s.shuffleOrder) {
			return s.shuffleOrder[nextPos], true
		}
		if s.repeatMode == RepeatAll {
			return s.shuffleOrder[0], true
		}
		return 0, false
	}

	next := s.currentIndex + 1
	if next < s.totalTracks {
		return next, true
	}
	if s.repeatMode == RepeatAll {
		return 0, true
	}
	return 0, false
}

// ShuffleOrder returns a copy of the active permutation, nil when
// shuffle is off.
func (s *Sequencer) ShuffleOrder() []int {
	if s.shuffleOrder == nil {
		return nil
	}
	out := make([]int, len(s.shuffleOrder))
	copy(out, s.shuffleOrder)
	return out
}

func (s *Sequencer) regenerateShuffle() {
	if s.totalTracks == 0 {
		s.shuffleOrder = nil
		s.shufflePos = 0
		return
	}
	s.shuffleOrder = rand.Perm(s.totalTracks)
	s.shufflePos = 0
}
