// Package disc reads audio CDs: TOC and CD-Text discovery, track
// extraction into a RAM-backed directory via cdparanoia, and raw PCM
// access for the playback engines.
package disc

import (
	"fmt"
	"time"
)

// sectorBytes is the payload size of one CD-DA sector (1/75th of a
// second of 44.1kHz stereo 16-bit audio).
const sectorBytes = 2352

// sectorsPerSecond is the CD-DA frame rate.
const sectorsPerSecond = 75

// wavHeaderSize is the RIFF/WAVE header cdparanoia writes before the
// PCM payload.
const wavHeaderSize = 44

// Track is one audio track as described by the disc TOC, optionally
// enriched with CD-Text metadata.
type Track struct {
	Number        int // 1-based disc position
	StartSector   int
	EndSector     int
	LengthSectors int
	Duration      time.Duration
	Filename      string
	Title         string
	Artist        string
}

// SizeBytes is the raw PCM size of the track.
func (t Track) SizeBytes() int64 {
	return int64(t.LengthSectors) * sectorBytes
}

func (t Track) String() string {
	mins := int(t.Duration.Minutes())
	secs := int(t.Duration.Seconds()) % 60
	if t.Title != "" {
		return fmt.Sprintf("Track %02d - %s (%02d:%02d)", t.Number, t.Title, mins, secs)
	}
	return fmt.Sprintf("Track %02d - %02d:%02d", t.Number, mins, secs)
}
