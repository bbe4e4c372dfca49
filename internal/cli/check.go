package cli

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mjoubert/ramcd/internal/config"
)

// runCheck verifies the external tools and the RAM path. cd-info is
// optional: without it discs just play untitled.
func runCheck(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	failed := false

	tools := []struct {
		name     string
		path     string
		required bool
		purpose  string
	}{
		{"cdparanoia", orDefault(cfg.Disc.CdparanoiaPath, "cdparanoia"), true, "TOC read and extraction"},
		{"mpv", orDefault(cfg.MPV.Binary, "mpv"), cfg.Disc.Level == 0, "streaming playback"},
		{"cd-info", orDefault(cfg.Disc.CdInfoPath, "cd-info"), false, "CD-Text metadata"},
	}

	for _, tool := range tools {
		path, err := exec.LookPath(tool.path)
		switch {
		case err == nil:
			fmt.Fprintf(out, "ok       %-12s %s\n", tool.name, path)
		case tool.required:
			failed = true
			fmt.Fprintf(out, "MISSING  %-12s required for %s\n", tool.name, tool.purpose)
		default:
			fmt.Fprintf(out, "missing  %-12s optional, %s\n", tool.name, tool.purpose)
		}
	}

	if _, err := os.Stat(cfg.Disc.RAMPath); err != nil {
		failed = true
		fmt.Fprintf(out, "MISSING  %-12s %s does not exist\n", "ram path", cfg.Disc.RAMPath)
	} else {
		var st syscall.Statfs_t
		if err := syscall.Statfs(cfg.Disc.RAMPath, &st); err == nil {
			avail := uint64(st.Bavail) * uint64(st.Bsize)
			fmt.Fprintf(out, "ok       %-12s %s (%s free)\n", "ram path", cfg.Disc.RAMPath, humanize.IBytes(avail))
		} else {
			fmt.Fprintf(out, "ok       %-12s %s\n", "ram path", cfg.Disc.RAMPath)
		}
	}

	if failed {
		return fmt.Errorf("missing required dependencies")
	}
	return nil
}

// runVerify checks that the configured audio path delivers the CD
// samples unmodified: direct ALSA hardware access and the PCM mixer
// at full scale.
func runVerify(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	failed := false

	if strings.HasPrefix(cfg.Audio.Device, "hw:") {
		fmt.Fprintf(out, "ok       %-12s %s (direct hardware access)\n", "device", cfg.Audio.Device)
	} else {
		failed = true
		fmt.Fprintf(out, "FAIL     %-12s %q goes through a software mixer, use an hw: device\n", "device", cfg.Audio.Device)
	}

	mixer, err := exec.Command("amixer", "get", "PCM").Output()
	switch {
	case err != nil:
		fmt.Fprintf(out, "skip     %-12s amixer not available\n", "volume")
	case bytes.Contains(mixer, []byte("[100%]")):
		fmt.Fprintf(out, "ok       %-12s PCM at 100%%\n", "volume")
	default:
		failed = true
		fmt.Fprintf(out, "FAIL     %-12s PCM mixer below 100%%, samples get rescaled\n", "volume")
	}

	if failed {
		return fmt.Errorf("audio path is not bit-perfect")
	}
	fmt.Fprintln(out, "audio path is bit-perfect")
	return nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
