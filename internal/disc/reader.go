package disc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ErrNoDisc is returned when no audio disc is present in the drive.
var ErrNoDisc = errors.New("disc: no disc detected")

// ErrInvalidTrack is returned for track numbers outside the TOC.
var ErrInvalidTrack = errors.New("disc: invalid track number")

// Progress reports extraction status per track. status is
// "extracting", "retry N" or "complete".
type Progress func(track, total int, status string)

// runCommand executes an external tool and returns its combined
// stdout and stderr. Swapped out in tests.
type runCommand func(ctx context.Context, name string, args ...string) (string, error)

func execRun(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// Config carries the reader's fixed parameters.
type Config struct {
	Device         string // optical drive, e.g. /dev/sr0
	CdparanoiaPath string
	CdInfoPath     string
	RAMPath        string // tmpfs mount for extracted tracks

	ReadOffset    int     // drive sample offset, cdparanoia -O
	SpeedLimit    string  // cdparanoia -s value, empty for unlimited
	SafetyMargin  float64 // extra RAM fraction required beyond raw size
	DetectRetries int

	DetectTimeout time.Duration
	TOCTimeout    time.Duration
	CDTextTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Device == "" {
		c.Device = "/dev/sr0"
	}
	if c.CdparanoiaPath == "" {
		c.CdparanoiaPath = "cdparanoia"
	}
	if c.CdInfoPath == "" {
		c.CdInfoPath = "cd-info"
	}
	if c.RAMPath == "" {
		c.RAMPath = "/mnt/cdram"
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 0.15
	}
	if c.DetectRetries <= 0 {
		c.DetectRetries = 2
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 5 * time.Second
	}
	if c.TOCTimeout <= 0 {
		c.TOCTimeout = 10 * time.Second
	}
	if c.CDTextTimeout <= 0 {
		c.CDTextTimeout = 5 * time.Second
	}
	return c
}

// Reader owns one disc's lifecycle: detection, TOC, metadata,
// extraction and raw track access.
type Reader struct {
	cfg Config
	log *zap.Logger
	run runCommand

	mu         sync.Mutex
	tracks     []Track
	level      Level
	discTitle  string
	discArtist string
}

// NewReader creates a reader for the configured drive.
func NewReader(cfg Config, log *zap.Logger) *Reader {
	return &Reader{
		cfg:   cfg.withDefaults(),
		log:   log.Named("disc"),
		run:   execRun,
		level: DefaultLevel,
	}
}

// Detect probes the drive for an audio disc, retrying briefly since
// drives report nothing while still spinning up.
func (r *Reader) Detect(ctx context.Context) bool {
	for attempt := 0; attempt < r.cfg.DetectRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.DetectTimeout)
		start := time.Now()
		out, err := r.run(cctx, r.cfg.CdparanoiaPath, "-d", r.cfg.Device, "-Q")
		cancel()

		if strings.Contains(out, "TOTAL") {
			r.log.Info("disc detected", zap.Duration("took", time.Since(start)))
			return true
		}
		if err != nil {
			r.log.Debug("detect attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
		}
		if attempt < r.cfg.DetectRetries-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
	r.log.Warn("no disc detected")
	return false
}

// ReadTOC queries the drive's table of contents and replaces the
// reader's track list.
func (r *Reader) ReadTOC(ctx context.Context) ([]Track, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.TOCTimeout)
	defer cancel()

	start := time.Now()
	out, err := r.run(cctx, r.cfg.CdparanoiaPath, "-d", r.cfg.Device, "-Q")
	tracks := parseTOC(out)
	if len(tracks) == 0 {
		if err != nil {
			return nil, fmt.Errorf("disc: read TOC: %w", err)
		}
		return nil, ErrNoDisc
	}

	var total time.Duration
	for _, t := range tracks {
		total += t.Duration
	}
	r.log.Info("TOC read",
		zap.Duration("took", time.Since(start)),
		zap.Int("tracks", len(tracks)),
		zap.Duration("total", total))

	r.mu.Lock()
	r.tracks = tracks
	r.discTitle = ""
	r.discArtist = ""
	r.mu.Unlock()
	return tracks, nil
}

// ReadCDText asks cd-info for disc and track metadata. Missing
// CD-Text (or a missing cd-info binary) is not an error, just false.
func (r *Reader) ReadCDText(ctx context.Context) bool {
	r.mu.Lock()
	hasTracks := len(r.tracks) > 0
	r.mu.Unlock()
	if !hasTracks {
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CDTextTimeout)
	defer cancel()

	out, err := r.run(cctx, r.cfg.CdInfoPath, "--no-header", "-C", r.cfg.Device)
	if err != nil && out == "" {
		r.log.Debug("cd-info unavailable", zap.Error(err))
		return false
	}

	text := parseCDText(out)
	if text.empty() {
		return false
	}

	r.mu.Lock()
	r.discTitle = text.discTitle
	r.discArtist = text.discArtist
	for i := range r.tracks {
		if title, ok := text.trackTitles[r.tracks[i].Number]; ok {
			r.tracks[i].Title = title
		}
		if text.discArtist != "" {
			r.tracks[i].Artist = text.discArtist
		}
	}
	r.mu.Unlock()

	r.log.Info("CD-Text found",
		zap.String("artist", orUnknown(text.discArtist)),
		zap.String("title", orUnknown(text.discTitle)))
	return true
}

// SetLevel selects the extraction level; invalid levels fall back to
// the default.
func (r *Reader) SetLevel(level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !level.Valid() {
		r.log.Warn("invalid extraction level, using default", zap.Int("level", int(level)))
		r.level = DefaultLevel
		return
	}
	r.level = level
	r.log.Info("extraction level set",
		zap.Stringer("level", level),
		zap.String("description", level.Description()))
}

// Level reports the selected extraction level.
func (r *Reader) Level() Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Tracks returns a copy of the current track list.
func (r *Reader) Tracks() []Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Track, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// Durations returns the track lengths in disc order, the shape the
// streaming engine wants.
func (r *Reader) Durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.tracks))
	for i, t := range r.tracks {
		out[i] = t.Duration
	}
	return out
}

// DiscID is a stable identifier derived from the TOC geometry, empty
// before ReadTOC.
func (r *Reader) DiscID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return discID(r.tracks)
}

// DiscTitle reports the CD-Text album title, if any.
func (r *Reader) DiscTitle() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discTitle
}

// DiscArtist reports the CD-Text album artist, if any.
func (r *Reader) DiscArtist() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discArtist
}

// RequiredBytes is the raw PCM size of the whole disc.
func (r *Reader) RequiredBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, t := range r.tracks {
		total += t.SizeBytes()
	}
	return total
}

// CheckRAM verifies the RAM path can hold the whole disc plus the
// safety margin.
func (r *Reader) CheckRAM() error {
	required := r.RequiredBytes()
	withMargin := int64(float64(required) * (1 + r.cfg.SafetyMargin))

	var st syscall.Statfs_t
	if err := syscall.Statfs(r.cfg.RAMPath, &st); err != nil {
		return fmt.Errorf("disc: statfs %s: %w", r.cfg.RAMPath, err)
	}
	available := int64(st.Bavail) * st.Bsize
	if available < withMargin {
		return fmt.Errorf("disc: not enough RAM: need %s, have %s",
			humanize.IBytes(uint64(withMargin)), humanize.IBytes(uint64(available)))
	}
	r.log.Debug("RAM check passed",
		zap.String("required", humanize.IBytes(uint64(withMargin))),
		zap.String("available", humanize.IBytes(uint64(available))))
	return nil
}

// RipToRAM extracts every track into the RAM path, retrying each
// track once before giving up on the disc.
func (r *Reader) RipToRAM(ctx context.Context, progress Progress) error {
	r.mu.Lock()
	tracks := make([]Track, len(r.tracks))
	copy(tracks, r.tracks)
	level := r.level
	r.mu.Unlock()

	if len(tracks) == 0 {
		return ErrNoDisc
	}
	if err := os.MkdirAll(r.cfg.RAMPath, 0o755); err != nil {
		return fmt.Errorf("disc: create %s: %w", r.cfg.RAMPath, err)
	}

	info := level.info()
	r.log.Info("starting extraction",
		zap.Int("tracks", len(tracks)),
		zap.Stringer("level", level),
		zap.Duration("per_track_timeout", info.timeout))

	const maxAttempts = 2
	start := time.Now()

	for _, t := range tracks {
		dest := filepath.Join(r.cfg.RAMPath, t.Filename)
		var ripped bool

		for attempt := 0; attempt < maxAttempts && !ripped; attempt++ {
			if progress != nil {
				status := "extracting"
				if attempt > 0 {
					status = fmt.Sprintf("retry %d", attempt)
				}
				progress(t.Number, len(tracks), status)
			}

			trackStart := time.Now()
			if err := r.ripTrack(ctx, t, dest, info); err != nil {
				r.log.Warn("track extraction failed",
					zap.Int("track", t.Number),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(500 * time.Millisecond):
				}
				continue
			}

			fi, err := os.Stat(dest)
			if err != nil {
				r.log.Warn("extracted file missing",
					zap.Int("track", t.Number), zap.Error(err))
				continue
			}
			ripped = true
			r.log.Info("track extracted",
				zap.Int("track", t.Number),
				zap.Duration("took", time.Since(trackStart)),
				zap.String("size", humanize.IBytes(uint64(fi.Size()))))
		}

		if !ripped {
			return fmt.Errorf("disc: track %d failed after %d attempts", t.Number, maxAttempts)
		}
	}

	if progress != nil {
		progress(len(tracks), len(tracks), "complete")
	}
	r.log.Info("extraction complete", zap.Duration("took", time.Since(start)))
	return nil
}

func (r *Reader) ripTrack(ctx context.Context, t Track, dest string, info levelInfo) error {
	args := []string{"-d", r.cfg.Device}
	args = append(args, info.flags...)
	if r.cfg.ReadOffset != 0 {
		args = append(args, "-O", fmt.Sprint(r.cfg.ReadOffset))
	}
	if r.cfg.SpeedLimit != "" {
		args = append(args, "-s", r.cfg.SpeedLimit)
	}
	args = append(args, fmt.Sprint(t.Number), dest)

	cctx := ctx
	if info.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, info.timeout)
		defer cancel()
	}
	_, err := r.run(cctx, r.cfg.CdparanoiaPath, args...)
	return err
}

// TrackData returns a track's raw PCM, stripping the WAV header
// cdparanoia wrote.
func (r *Reader) TrackData(trackNum int) ([]byte, error) {
	r.mu.Lock()
	valid := trackNum >= 1 && trackNum <= len(r.tracks)
	var filename string
	if valid {
		filename = r.tracks[trackNum-1].Filename
	}
	r.mu.Unlock()

	if !valid {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTrack, trackNum)
	}

	path := filepath.Join(r.cfg.RAMPath, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("disc: load track %d: %w", trackNum, err)
	}
	if len(data) <= wavHeaderSize {
		return nil, fmt.Errorf("disc: track %d file truncated (%d bytes)", trackNum, len(data))
	}
	return data[wavHeaderSize:], nil
}

// Cleanup removes the extracted files from RAM.
func (r *Reader) Cleanup() {
	r.mu.Lock()
	tracks := make([]Track, len(r.tracks))
	copy(tracks, r.tracks)
	r.mu.Unlock()

	removed := 0
	for _, t := range tracks {
		path := filepath.Join(r.cfg.RAMPath, t.Filename)
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	r.log.Info("cleanup complete", zap.Int("removed", removed))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
