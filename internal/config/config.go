package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Disc drive and extraction settings
	Disc DiscConfig `koanf:"disc"`

	// Fixed-format audio output
	Audio AudioConfig `koanf:"audio"`

	// External mpv process (streaming level)
	MPV MPVConfig `koanf:"mpv"`

	// Transport behavior
	Playback PlaybackConfig `koanf:"playback"`

	// Log file settings
	Log LogConfig `koanf:"log"`
}

// DiscConfig holds drive and ripper configuration.
type DiscConfig struct {
	Device         string  `koanf:"device"`          // e.g. "/dev/sr0"
	CdparanoiaPath string  `koanf:"cdparanoia_path"` // defaults to PATH lookup
	CdInfoPath     string  `koanf:"cd_info_path"`    // CD-Text reader, optional
	RAMPath        string  `koanf:"ram_path"`        // tmpfs mount for extracted tracks
	ReadOffset     int     `koanf:"read_offset"`     // drive sample offset
	SpeedLimit     string  `koanf:"speed_limit"`     // cdparanoia -s value, empty = unlimited
	SafetyMargin   float64 `koanf:"safety_margin"`   // extra RAM fraction (default: 0.15)
	Level          int     `koanf:"level"`           // extraction level 0-3 (default: 1)
}

// AudioConfig holds the fixed output format and device.
type AudioConfig struct {
	Device         string `koanf:"device"`           // ALSA device for mpv streaming
	SampleRate     int    `koanf:"sample_rate"`      // default: 44100
	Channels       int    `koanf:"channels"`         // default: 2
	BitDepth       int    `koanf:"bit_depth"`        // default: 16
	ChunkFrames    int    `koanf:"chunk_frames"`     // frames per sink write (default: 4096)
	FramesPerBurst int    `koanf:"frames_per_burst"` // portaudio period size (default: 4096)
}

// MPVConfig holds the streaming engine's process settings.
type MPVConfig struct {
	Binary           string `koanf:"binary"`             // default: "mpv"
	SocketPath       string `koanf:"socket_path"`        // attach to a running instance instead of spawning
	SocketWaitMS     int    `koanf:"socket_wait_ms"`     // IPC socket wait after spawn (default: 3000)
	RequestTimeoutMS int    `koanf:"request_timeout_ms"` // per IPC request (default: 300)
	StartTimeoutMS   int    `koanf:"start_timeout_ms"`   // audio start detection bound (default: 20000)
	StartPollMS      int    `koanf:"start_poll_ms"`      // audio start poll period (default: 100)
	StartEpsilonMS   int    `koanf:"start_epsilon_ms"`   // position change counting as started (default: 100)
	PollIntervalMS   int    `koanf:"poll_interval_ms"`   // end detection poll period (default: 300)
	PositionCacheMS  int    `koanf:"position_cache_ms"`  // position query cache lifetime (default: 200)
	LoadSettleMS     int    `koanf:"load_settle_ms"`     // delay after disc load (default: 500)
	JoinTimeoutMS    int    `koanf:"join_timeout_ms"`    // poller shutdown wait (default: 1000)
}

// PlaybackConfig holds transport behavior settings.
type PlaybackConfig struct {
	// Double stop: a second stop within the window returns to track 1.
	DoubleStop       bool `koanf:"double_stop"`
	DoubleStopWindow int  `koanf:"double_stop_window_ms"` // default: 3000

	// Restart threshold: prev restarts the current track past this
	// position instead of going back (default: 2000).
	PrevRestartMS int `koanf:"prev_restart_ms"`

	// Autoplay after disc load, per extraction level. Keys are the
	// level numbers; unlisted levels do not autoplay.
	AutoplayOnLoad map[string]bool `koanf:"autoplay_on_load"`
}

// LogConfig holds log output settings.
type LogConfig struct {
	File       string `koanf:"file"`        // empty disables file logging
	Level      string `koanf:"level"`       // debug/info/warn/error (default: info)
	MaxSizeMB  int    `koanf:"max_size_mb"` // rotation threshold (default: 10)
	MaxBackups int    `koanf:"max_backups"` // default: 3
}

func Load() (*Config, error) {
	return LoadFrom(getConfigPaths())
}

// LoadFrom reads the given TOML files in order, later files winning.
func LoadFrom(paths []string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if cfg.Disc.RAMPath != "" {
		cfg.Disc.RAMPath = expandPath(cfg.Disc.RAMPath)
	}
	if cfg.Log.File != "" {
		cfg.Log.File = expandPath(cfg.Log.File)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Disc.Device == "" {
		c.Disc.Device = "/dev/sr0"
	}
	if c.Disc.RAMPath == "" {
		c.Disc.RAMPath = "/mnt/cdram"
	}
	if c.Disc.SafetyMargin <= 0 {
		c.Disc.SafetyMargin = 0.15
	}

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 44100
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 2
	}
	if c.Audio.BitDepth <= 0 {
		c.Audio.BitDepth = 16
	}
	if c.Audio.ChunkFrames <= 0 {
		c.Audio.ChunkFrames = 4096
	}
	if c.Audio.FramesPerBurst <= 0 {
		c.Audio.FramesPerBurst = 4096
	}

	if c.MPV.Binary == "" {
		c.MPV.Binary = "mpv"
	}
	if c.MPV.SocketWaitMS <= 0 {
		c.MPV.SocketWaitMS = 3000
	}
	if c.MPV.RequestTimeoutMS <= 0 {
		c.MPV.RequestTimeoutMS = 300
	}
	if c.MPV.StartTimeoutMS <= 0 {
		c.MPV.StartTimeoutMS = 20000
	}
	if c.MPV.StartPollMS <= 0 {
		c.MPV.StartPollMS = 100
	}
	if c.MPV.StartEpsilonMS <= 0 {
		c.MPV.StartEpsilonMS = 100
	}
	if c.MPV.PollIntervalMS <= 0 {
		c.MPV.PollIntervalMS = 300
	}
	if c.MPV.PositionCacheMS <= 0 {
		c.MPV.PositionCacheMS = 200
	}
	if c.MPV.LoadSettleMS <= 0 {
		c.MPV.LoadSettleMS = 500
	}
	if c.MPV.JoinTimeoutMS <= 0 {
		c.MPV.JoinTimeoutMS = 1000
	}

	if c.Playback.DoubleStopWindow <= 0 {
		c.Playback.DoubleStopWindow = 3000
	}
	if c.Playback.PrevRestartMS <= 0 {
		c.Playback.PrevRestartMS = 2000
	}
	if c.Playback.AutoplayOnLoad == nil {
		// Only the streaming level autoplays out of the box.
		c.Playback.AutoplayOnLoad = map[string]bool{"0": true}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
}

// AutoplayFor reports whether a freshly loaded disc should start
// playing at the given extraction level.
func (c *Config) AutoplayFor(level int) bool {
	return c.Playback.AutoplayOnLoad[strconv.Itoa(level)]
}

// Window returns the double-stop window as a duration.
func (p PlaybackConfig) Window() time.Duration {
	return time.Duration(p.DoubleStopWindow) * time.Millisecond
}

// PrevRestart returns the prev-restart threshold as a duration.
func (p PlaybackConfig) PrevRestart() time.Duration {
	return time.Duration(p.PrevRestartMS) * time.Millisecond
}

func (m MPVConfig) SocketWait() time.Duration {
	return time.Duration(m.SocketWaitMS) * time.Millisecond
}

func (m MPVConfig) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutMS) * time.Millisecond
}

func (m MPVConfig) StartTimeout() time.Duration {
	return time.Duration(m.StartTimeoutMS) * time.Millisecond
}

func (m MPVConfig) StartPoll() time.Duration {
	return time.Duration(m.StartPollMS) * time.Millisecond
}

func (m MPVConfig) StartEpsilon() time.Duration {
	return time.Duration(m.StartEpsilonMS) * time.Millisecond
}

func (m MPVConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMS) * time.Millisecond
}

func (m MPVConfig) PositionCache() time.Duration {
	return time.Duration(m.PositionCacheMS) * time.Millisecond
}

func (m MPVConfig) LoadSettle() time.Duration {
	return time.Duration(m.LoadSettleMS) * time.Millisecond
}

func (m MPVConfig) JoinTimeout() time.Duration {
	return time.Duration(m.JoinTimeoutMS) * time.Millisecond
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/ramcd/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ramcd", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
