// Package cli wires the config, logger, disc reader and controller
// into the ramcd command and runs the interactive console.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjoubert/ramcd/internal/config"
	"github.com/mjoubert/ramcd/internal/controller"
	"github.com/mjoubert/ramcd/internal/disc"
	"github.com/mjoubert/ramcd/internal/logger"
	"github.com/mjoubert/ramcd/internal/state"
	"github.com/mjoubert/ramcd/internal/stderr"
)

var (
	flagConfig    string
	flagDebug     bool
	flagCheck     bool
	flagVerify    bool
	flagLevel     int
	flagStreaming bool
)

var rootCmd = &cobra.Command{
	Use:   "ramcd",
	Short: "Gapless CD player that rips discs to RAM before playback",
	Long: `ramcd reads an audio CD with cdparanoia, extracts it to a RAM
filesystem and plays it back gaplessly from memory. In streaming mode
(level 0) it plays straight off the disc through mpv instead.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "debug logging")
	rootCmd.Flags().BoolVar(&flagCheck, "check", false, "check external dependencies and exit")
	rootCmd.Flags().BoolVar(&flagVerify, "verify", false, "verify the audio path is bit-perfect and exit")
	rootCmd.Flags().IntVar(&flagLevel, "level", -1, "extraction level 0-3 (overrides config)")
	rootCmd.Flags().BoolVar(&flagStreaming, "streaming", false, "stream from disc via mpv (same as --level 0)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFrom([]string{flagConfig})
	}
	return config.Load()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flagDebug {
		cfg.Log.Level = "debug"
	}
	if flagStreaming {
		cfg.Disc.Level = 0
	} else if flagLevel >= 0 {
		cfg.Disc.Level = flagLevel
	}

	if flagCheck {
		return runCheck(cmd, cfg)
	}
	if flagVerify {
		return runVerify(cmd, cfg)
	}

	// Divert ALSA's fd 2 noise before portaudio comes up. The logger
	// built below writes to the preserved original stderr.
	if err := stderr.Start(); err == nil {
		defer stderr.Stop()
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	go func() {
		for line := range stderr.Lines() {
			log.Debug("captured stderr", zap.String("line", line))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reader := disc.NewReader(disc.Config{
		Device:         cfg.Disc.Device,
		CdparanoiaPath: cfg.Disc.CdparanoiaPath,
		CdInfoPath:     cfg.Disc.CdInfoPath,
		RAMPath:        cfg.Disc.RAMPath,
		ReadOffset:     cfg.Disc.ReadOffset,
		SpeedLimit:     cfg.Disc.SpeedLimit,
		SafetyMargin:   cfg.Disc.SafetyMargin,
	}, log)

	drive := disc.NewDrive(disc.DriveConfig{Device: cfg.Disc.Device}, log)
	if drive.Detect(ctx) {
		fmt.Println("Drive:", drive.DisplayName())
	}

	store, err := state.Open()
	if err != nil {
		log.Warn("resume state unavailable", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	ctrl := controller.New(cfg, reader, drive, store, log)
	defer ctrl.Close()

	sub := ctrl.Subscribe()
	go printEvents(sub)

	fmt.Println("Loading disc...")
	if err := ctrl.Load(ctx); err != nil {
		return err
	}
	printDisc(ctrl)

	return console(ctx, ctrl)
}

// console reads commands from stdin until quit, EOF or a signal.
func console(ctx context.Context, ctrl *controller.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, ctrl, line); quit {
				return nil
			}
		}
	}
}

// dispatch runs one console command, reporting whether to exit.
func dispatch(ctx context.Context, ctrl *controller.Controller, line string) bool {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "play", "p":
		if err := ctrl.Play(); err != nil {
			fmt.Println("error:", err)
		}
	case "pause":
		ctrl.Pause()
	case "stop", "s":
		ctrl.Stop()
	case "next", "n":
		if err := ctrl.Next(); err != nil {
			fmt.Println("error:", err)
		}
	case "prev", "b":
		if err := ctrl.Prev(); err != nil {
			fmt.Println("error:", err)
		}
	case "goto", "g":
		if len(fields) < 2 {
			fmt.Println("usage: goto <track>")
			return false
		}
		num, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Println("usage: goto <track>")
			return false
		}
		if err := ctrl.Goto(num - 1); err != nil {
			fmt.Println("error:", err)
		}
	case "seek":
		if len(fields) < 2 {
			fmt.Println("usage: seek <seconds>")
			return false
		}
		secs, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Println("usage: seek <seconds>")
			return false
		}
		ctrl.Seek(time.Duration(secs * float64(time.Second)))
	case "shuffle":
		if ctrl.ToggleShuffle() {
			fmt.Println("shuffle on")
		} else {
			fmt.Println("shuffle off")
		}
	case "repeat", "r":
		fmt.Println("repeat:", ctrl.CycleRepeat())
	case "list", "l":
		printDisc(ctrl)
	case "status", "st":
		printStatus(ctrl)
	case "eject", "e":
		ctrl.Eject(ctx)
		fmt.Println("disc ejected")
	case "load":
		fmt.Println("Loading disc...")
		if err := ctrl.Load(ctx); err != nil {
			fmt.Println("error:", err)
			return false
		}
		printDisc(ctrl)
	case "help", "h", "?":
		printHelp()
	case "quit", "q", "exit":
		return true
	default:
		fmt.Printf("unknown command %q, try help\n", fields[0])
	}
	return false
}

// printEvents writes subscriber events to the console until Done.
func printEvents(sub *controller.Subscription) {
	for {
		select {
		case <-sub.Done:
			return
		case ev := <-sub.TrackChanged:
			fmt.Printf("-> %s [%d/%d]\n", ev.Track, ev.Index+1, ev.Total)
		case ev := <-sub.StateChanged:
			fmt.Println("state:", ev.Current)
		case ev := <-sub.ModeChanged:
			fmt.Printf("mode: repeat=%s shuffle=%v\n", ev.RepeatMode, ev.Shuffle)
		case <-sub.DiscEnded:
			fmt.Println("disc finished")
		case ev := <-sub.Loading:
			if ev.Total == 0 {
				fmt.Println(ev.Status)
			} else {
				fmt.Printf("track %d/%d: %s\n", ev.Track, ev.Total, ev.Status)
			}
		case ev := <-sub.Error:
			fmt.Printf("error (%s): %v\n", ev.Operation, ev.Err)
		}
	}
}

func printDisc(ctrl *controller.Controller) {
	tracks := ctrl.Tracks()
	if len(tracks) == 0 {
		fmt.Println("no disc loaded")
		return
	}
	for _, t := range tracks {
		fmt.Println(" ", t)
	}
}

func printStatus(ctrl *controller.Controller) {
	track, ok := ctrl.CurrentTrack()
	if !ok {
		fmt.Println("no disc loaded")
		return
	}
	fmt.Printf("%s  %s  %s / %s  repeat=%s shuffle=%v\n",
		ctrl.State(), track,
		formatDuration(ctrl.Position()), formatDuration(ctrl.Duration()),
		ctrl.RepeatMode(), ctrl.Shuffle())
}

func printHelp() {
	fmt.Print(`commands:
  play pause stop next prev
  goto <track>   jump to a 1-based track number
  seek <seconds> seek within the current track
  shuffle repeat list status
  eject load quit
`)
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}
