package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Could not get home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "tilde expands to home",
			input:    "~/cdram",
			expected: filepath.Join(home, "cdram"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/mnt/cdram",
			expected: "/mnt/cdram",
		},
		{
			name:     "relative path unchanged",
			input:    "cdram",
			expected: "cdram",
		},
		{
			name:     "empty string unchanged",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetConfigPaths(t *testing.T) {
	paths := getConfigPaths()

	if len(paths) == 0 {
		t.Fatal("getConfigPaths() returned empty slice")
	}

	// Last path should be local config.toml (highest priority)
	lastPath := paths[len(paths)-1]
	if lastPath != "config.toml" {
		t.Errorf("last config path = %q, want %q", lastPath, "config.toml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		expectedFirst := filepath.Join(home, ".config", "ramcd", "config.toml")
		if paths[0] != expectedFirst {
			t.Errorf("first config path = %q, want %q", paths[0], expectedFirst)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom([]string{writeConfig(t, "")})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Disc.Device != "/dev/sr0" {
		t.Errorf("Disc.Device = %q, want /dev/sr0", cfg.Disc.Device)
	}
	if cfg.Disc.RAMPath != "/mnt/cdram" {
		t.Errorf("Disc.RAMPath = %q, want /mnt/cdram", cfg.Disc.RAMPath)
	}
	if cfg.Disc.SafetyMargin != 0.15 {
		t.Errorf("Disc.SafetyMargin = %f, want 0.15", cfg.Disc.SafetyMargin)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Audio.SampleRate = %d, want 44100", cfg.Audio.SampleRate)
	}
	if cfg.Audio.ChunkFrames != 4096 {
		t.Errorf("Audio.ChunkFrames = %d, want 4096", cfg.Audio.ChunkFrames)
	}
	if cfg.MPV.Binary != "mpv" {
		t.Errorf("MPV.Binary = %q, want mpv", cfg.MPV.Binary)
	}
	if cfg.MPV.StartTimeout() != 20*time.Second {
		t.Errorf("MPV.StartTimeout() = %v, want 20s", cfg.MPV.StartTimeout())
	}
	if cfg.MPV.StartPoll() != 100*time.Millisecond {
		t.Errorf("MPV.StartPoll() = %v, want 100ms", cfg.MPV.StartPoll())
	}
	if cfg.MPV.StartEpsilon() != 100*time.Millisecond {
		t.Errorf("MPV.StartEpsilon() = %v, want 100ms", cfg.MPV.StartEpsilon())
	}
	if cfg.MPV.PositionCache() != 200*time.Millisecond {
		t.Errorf("MPV.PositionCache() = %v, want 200ms", cfg.MPV.PositionCache())
	}
	if cfg.MPV.JoinTimeout() != time.Second {
		t.Errorf("MPV.JoinTimeout() = %v, want 1s", cfg.MPV.JoinTimeout())
	}
	if cfg.Playback.DoubleStop {
		t.Error("Playback.DoubleStop should default to off")
	}
	if cfg.Playback.Window() != 3*time.Second {
		t.Errorf("Playback.Window() = %v, want 3s", cfg.Playback.Window())
	}
	if cfg.Playback.PrevRestart() != 2*time.Second {
		t.Errorf("Playback.PrevRestart() = %v, want 2s", cfg.Playback.PrevRestart())
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadFrom_Values(t *testing.T) {
	path := writeConfig(t, `
[disc]
device = "/dev/sr1"
level = 2
read_offset = 6
speed_limit = "8"

[audio]
device = "hw:2,0"
chunk_frames = 2048

[mpv]
binary = "/usr/local/bin/mpv"
poll_interval_ms = 150
start_poll_ms = 50
start_epsilon_ms = 250
position_cache_ms = 400
join_timeout_ms = 2000

[playback]
double_stop = true
double_stop_window_ms = 5000

[log]
file = "~/ramcd.log"
level = "debug"
`)

	cfg, err := LoadFrom([]string{path})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Disc.Device != "/dev/sr1" {
		t.Errorf("Disc.Device = %q, want /dev/sr1", cfg.Disc.Device)
	}
	if cfg.Disc.Level != 2 {
		t.Errorf("Disc.Level = %d, want 2", cfg.Disc.Level)
	}
	if cfg.Disc.ReadOffset != 6 {
		t.Errorf("Disc.ReadOffset = %d, want 6", cfg.Disc.ReadOffset)
	}
	if cfg.Audio.Device != "hw:2,0" {
		t.Errorf("Audio.Device = %q, want hw:2,0", cfg.Audio.Device)
	}
	if cfg.Audio.ChunkFrames != 2048 {
		t.Errorf("Audio.ChunkFrames = %d, want 2048", cfg.Audio.ChunkFrames)
	}
	if cfg.MPV.Binary != "/usr/local/bin/mpv" {
		t.Errorf("MPV.Binary = %q, want /usr/local/bin/mpv", cfg.MPV.Binary)
	}
	if cfg.MPV.PollInterval() != 150*time.Millisecond {
		t.Errorf("MPV.PollInterval() = %v, want 150ms", cfg.MPV.PollInterval())
	}
	if cfg.MPV.StartPoll() != 50*time.Millisecond {
		t.Errorf("MPV.StartPoll() = %v, want 50ms", cfg.MPV.StartPoll())
	}
	if cfg.MPV.StartEpsilon() != 250*time.Millisecond {
		t.Errorf("MPV.StartEpsilon() = %v, want 250ms", cfg.MPV.StartEpsilon())
	}
	if cfg.MPV.PositionCache() != 400*time.Millisecond {
		t.Errorf("MPV.PositionCache() = %v, want 400ms", cfg.MPV.PositionCache())
	}
	if cfg.MPV.JoinTimeout() != 2*time.Second {
		t.Errorf("MPV.JoinTimeout() = %v, want 2s", cfg.MPV.JoinTimeout())
	}
	if !cfg.Playback.DoubleStop {
		t.Error("Playback.DoubleStop = false, want true")
	}
	if cfg.Playback.Window() != 5*time.Second {
		t.Errorf("Playback.Window() = %v, want 5s", cfg.Playback.Window())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}

	// ~ in the log file path should be expanded
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, "ramcd.log")
	if cfg.Log.File != expected {
		t.Errorf("Log.File = %q, want %q", cfg.Log.File, expected)
	}
}

func TestLoadFrom_LaterFileWins(t *testing.T) {
	base := writeConfig(t, `[disc]
device = "/dev/sr0"
level = 1
`)
	override := writeConfig(t, `[disc]
level = 3
`)

	cfg, err := LoadFrom([]string{base, override})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Disc.Device != "/dev/sr0" {
		t.Errorf("Disc.Device = %q, want /dev/sr0", cfg.Disc.Device)
	}
	if cfg.Disc.Level != 3 {
		t.Errorf("Disc.Level = %d, want 3 (override file wins)", cfg.Disc.Level)
	}
}

func TestLoadFrom_MissingFilesAreSkipped(t *testing.T) {
	cfg, err := LoadFrom([]string{"/nonexistent/config.toml"})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Disc.Device != "/dev/sr0" {
		t.Errorf("Disc.Device = %q, want default", cfg.Disc.Device)
	}
}

func TestLoadFrom_InvalidToml(t *testing.T) {
	path := writeConfig(t, "invalid = [[[")
	if _, err := LoadFrom([]string{path}); err == nil {
		t.Error("LoadFrom() expected error for invalid TOML, got nil")
	}
}

func TestAutoplayFor(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		level    int
		expected bool
	}{
		{
			name:     "default autoplays streaming only",
			config:   "",
			level:    0,
			expected: true,
		},
		{
			name:     "default does not autoplay standard",
			config:   "",
			level:    1,
			expected: false,
		},
		{
			name: "configured map",
			config: `[playback.autoplay_on_load]
1 = true
`,
			level:    1,
			expected: true,
		},
		{
			name: "configured map unlisted level",
			config: `[playback.autoplay_on_load]
1 = true
`,
			level:    0,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom([]string{writeConfig(t, tt.config)})
			if err != nil {
				t.Fatalf("LoadFrom() error = %v", err)
			}
			if got := cfg.AutoplayFor(tt.level); got != tt.expected {
				t.Errorf("AutoplayFor(%d) = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}
