package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petems/audiograbber/internal/app"
	"github.com/petems/audiograbber/internal/config"
	"github.com/petems/audiograbber/internal/logging"
	"github.com/petems/audiograbber/internal/permissions"
	"github.com/petems/audiograbber/internal/source"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	cmd := &cobra.Command{
		Use:           "audiograbber",
		Short:         "Capture audio from web browsers into a WAV file",
		Long:          "Capture audio from a running web browser and record it to a WAV file.\nPress Ctrl+C to stop recording and save the file.",
		Version:       fmt.Sprintf("%s (commit %s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.OutputName, "name", "n", cfg.OutputName, "output filename")
	flags.StringVarP(&cfg.OutputDir, "path", "p", cfg.OutputDir, "output directory")
	flags.StringVarP(&cfg.Browser, "browser", "b", cfg.Browser, "browser to capture audio from")
	flags.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "sample rate in Hz (44100, 48000 or 96000)")
	flags.IntVar(&cfg.Channels, "channels", cfg.Channels, "number of audio channels (1 or 2)")
	flags.StringVar(&cfg.Subtype, "subtype", cfg.Subtype, "PCM subtype (pcm_16, pcm_24 or pcm_32)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(newTargetsCmd())

	return cmd
}

func runRecord(cfg *config.Config) error {
	printBanner()

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	// Capturing another app's audio needs Screen Recording approval up front.
	if err := permissions.EnsurePermissions(); err != nil {
		return err
	}

	src, err := source.New()
	if err != nil {
		return fmt.Errorf("failed to initialize capture source: %w", err)
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(app.Config{
		Source: src,
		Config: cfg,
		Logger: log,
		Output: os.Stdout,
	})

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Recording failed")
		return err
	}
	return nil
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List supported browsers and capturable targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Supported browsers:")
			for _, name := range source.SupportedTargets() {
				fmt.Printf("  - %s\n", name)
			}

			src, err := source.New()
			if err != nil {
				return fmt.Errorf("failed to initialize capture source: %w", err)
			}
			defer src.Close()

			targets, err := src.ListTargets(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("\nCurrently capturable:")
			found := false
			for _, t := range targets {
				if t.BundleID != "" && !source.KnownBundleID(t.BundleID) {
					continue
				}
				found = true
				if t.BundleID != "" {
					fmt.Printf("  - %s (%s) [PID: %d]\n", t.Name, t.BundleID, t.PID)
				} else {
					fmt.Printf("  - %s\n", t.Name)
				}
			}
			if !found {
				fmt.Println("  (none detected)")
			}
			return nil
		},
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println("==================================================")
	fmt.Println("  audiograbber - Browser Audio Capture")
	fmt.Println("==================================================")
	fmt.Println()
}
