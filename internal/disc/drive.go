package disc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// superDriveUSBID is the Apple SuperDrive's vendor:product pair as
// lsusb prints it.
const superDriveUSBID = "05ac:1500"

// DriveConfig carries the drive controller's tool paths and timeouts.
type DriveConfig struct {
	Device      string // optical drive, e.g. /dev/sr0
	UdevadmPath string
	LsusbPath   string
	SgRawPath   string // sg3-utils, for the SuperDrive wake command
	EjectPath   string

	ProbeTimeout  time.Duration // identity queries and ready probes
	EnableTimeout time.Duration // wake commands
	EjectTimeout  time.Duration
}

func (c DriveConfig) withDefaults() DriveConfig {
	if c.Device == "" {
		c.Device = "/dev/sr0"
	}
	if c.UdevadmPath == "" {
		c.UdevadmPath = "udevadm"
	}
	if c.LsusbPath == "" {
		c.LsusbPath = "lsusb"
	}
	if c.SgRawPath == "" {
		c.SgRawPath = "sg_raw"
	}
	if c.EjectPath == "" {
		c.EjectPath = "eject"
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.EnableTimeout <= 0 {
		c.EnableTimeout = 10 * time.Second
	}
	if c.EjectTimeout <= 0 {
		c.EjectTimeout = 10 * time.Second
	}
	return c
}

// Drive talks to the optical drive hardware: identity via udev, the
// Apple SuperDrive wake sequence, and the physical tray eject. The
// SuperDrive refuses discs until it receives a vendor command after
// each power cycle, so Enable must run before the first load.
type Drive struct {
	cfg DriveConfig
	log *zap.Logger
	run runCommand

	mu         sync.Mutex
	vendor     string
	model      string
	superDrive bool
	enabled    bool
}

// NewDrive creates a controller for the configured drive.
func NewDrive(cfg DriveConfig, log *zap.Logger) *Drive {
	return &Drive{
		cfg: cfg.withDefaults(),
		log: log.Named("drive"),
		run: execRun,
	}
}

// Detect queries the drive's identity. Returns false when the device
// node is absent or udev reports no model.
func (d *Drive) Detect(ctx context.Context) bool {
	if _, err := os.Stat(d.cfg.Device); err != nil {
		d.log.Debug("device not present", zap.String("device", d.cfg.Device))
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	out, err := d.run(pctx, d.cfg.UdevadmPath, "info", "--query=property", "--name="+d.cfg.Device)
	cancel()
	if err != nil {
		d.log.Debug("udev query failed", zap.Error(err))
		return false
	}

	d.mu.Lock()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "ID_VENDOR="); ok {
			d.vendor = v
		} else if m, ok := strings.CutPrefix(line, "ID_MODEL="); ok {
			d.model = m
		}
	}
	model := d.model
	d.superDrive = strings.Contains(strings.ToLower(out), "apple")
	d.mu.Unlock()

	if model == "" {
		return false
	}

	// The SuperDrive sometimes hides its vendor string from udev but
	// is unambiguous on the USB bus.
	if !d.IsSuperDrive() {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		usb, err := d.run(pctx, d.cfg.LsusbPath)
		cancel()
		if err == nil && strings.Contains(usb, superDriveUSBID) {
			d.mu.Lock()
			d.superDrive = true
			d.mu.Unlock()
		}
	}

	kind := "optical drive"
	if d.IsSuperDrive() {
		kind = "Apple SuperDrive"
	}
	d.log.Info("drive detected",
		zap.String("kind", kind),
		zap.String("name", d.DisplayName()))
	return true
}

// IsSuperDrive reports whether Detect identified an Apple SuperDrive.
func (d *Drive) IsSuperDrive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.superDrive
}

// NeedsWake reports whether the drive still requires the wake command.
func (d *Drive) NeedsWake() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.superDrive && !d.enabled
}

// DisplayName returns the human-readable vendor and model.
func (d *Drive) DisplayName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	vendor := strings.ReplaceAll(d.vendor, "_", " ")
	model := strings.ReplaceAll(d.model, "_", " ")
	switch {
	case vendor != "" && model != "":
		return strings.TrimSpace(vendor + " " + model)
	case model != "":
		return model
	default:
		return "CD/DVD Drive"
	}
}

// Enable sends the SuperDrive wake command, falling back to a start
// unit command, then probes readiness. The wake is fire-and-forget:
// the drive is marked enabled even if the ready probe stays silent,
// since some units accept discs without ever acking. No-op for
// ordinary drives.
func (d *Drive) Enable(ctx context.Context) bool {
	if !d.IsSuperDrive() {
		return true
	}

	d.log.Info("waking SuperDrive")
	ectx, cancel := context.WithTimeout(ctx, d.cfg.EnableTimeout)
	_, err := d.run(ectx, d.cfg.SgRawPath, d.cfg.Device, "EA", "00", "00", "00", "00", "00", "01")
	cancel()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			d.log.Error("sg_raw not found, install sg3-utils")
			return false
		}
		d.log.Warn("wake command failed, trying start unit", zap.Error(err))
		ectx, cancel := context.WithTimeout(ctx, d.cfg.EnableTimeout)
		_, _ = d.run(ectx, d.cfg.SgRawPath, d.cfg.Device, "1B", "00", "00", "00", "01", "00")
		cancel()
	}

	if !sleepCtx(ctx, 500*time.Millisecond) {
		return false
	}

	for attempt := 0; attempt < 2; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		_, err := d.run(pctx, d.cfg.SgRawPath, d.cfg.Device, "00", "00", "00", "00", "00", "00")
		cancel()
		if err == nil {
			d.setEnabled()
			d.log.Info("SuperDrive ready")
			return true
		}
		if attempt == 0 && !sleepCtx(ctx, 500*time.Millisecond) {
			return false
		}
	}

	d.log.Debug("wake sent, drive not acking ready, proceeding")
	d.setEnabled()
	return true
}

// Eject opens the drive tray.
func (d *Drive) Eject(ctx context.Context) error {
	ectx, cancel := context.WithTimeout(ctx, d.cfg.EjectTimeout)
	defer cancel()
	if _, err := d.run(ectx, d.cfg.EjectPath, d.cfg.Device); err != nil {
		return fmt.Errorf("ejecting disc: %w", err)
	}
	d.log.Info("tray ejected")
	return nil
}

func (d *Drive) setEnabled() {
	d.mu.Lock()
	d.enabled = true
	d.mu.Unlock()
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(dur):
		return true
	}
}
