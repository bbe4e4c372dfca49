package disc

import "time"

// Level selects the extraction strategy, trading rip speed against
// error correction.
type Level int

const (
	// LevelStreaming plays straight from the disc without ripping.
	LevelStreaming Level = iota
	// LevelStandard disables some paranoia checks for a faster rip.
	LevelStandard
	// LevelPrecise runs cdparanoia with full verification.
	LevelPrecise
	// LevelRescue tolerates heavily damaged discs.
	LevelRescue
)

// DefaultLevel balances speed and quality.
const DefaultLevel = LevelStandard

type levelInfo struct {
	name        string
	description string
	flags       []string
	timeout     time.Duration // per-track rip bound
}

var levels = map[Level]levelInfo{
	LevelStreaming: {
		name:        "streaming",
		description: "direct playback from disc, no extraction",
	},
	LevelStandard: {
		name:        "standard",
		description: "balanced speed and quality",
		flags:       []string{"-Y"},
		timeout:     4 * time.Minute,
	},
	LevelPrecise: {
		name:        "precise",
		description: "full verification",
		timeout:     5 * time.Minute,
	},
	LevelRescue: {
		name:        "rescue",
		description: "damaged discs",
		flags:       []string{"-z", "100"},
		timeout:     10 * time.Minute,
	},
}

// Valid reports whether l is a known extraction level.
func (l Level) Valid() bool {
	_, ok := levels[l]
	return ok
}

// Streaming reports whether the level bypasses extraction entirely.
func (l Level) Streaming() bool { return l == LevelStreaming }

func (l Level) String() string {
	if info, ok := levels[l]; ok {
		return info.name
	}
	return "unknown"
}

// Description is a one-line human summary of the level.
func (l Level) Description() string {
	return levels[l].description
}

func (l Level) info() levelInfo {
	if info, ok := levels[l]; ok {
		return info
	}
	return levels[DefaultLevel]
}
