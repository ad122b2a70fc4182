package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/audiograbber/internal/capture"
	"github.com/petems/audiograbber/internal/config"
	"github.com/petems/audiograbber/internal/source"
	"github.com/petems/audiograbber/internal/writer"
)

// progressInterval is how often the live duration/frame line refreshes.
const progressInterval = 500 * time.Millisecond

type Config struct {
	Source source.Source
	Config *config.Config
	Logger zerolog.Logger
	Output io.Writer // progress output; nil discards
}

// App owns one recording run: it builds the sink, write queue and capture
// session from config, runs the progress loop, and tears everything down in
// order so queued blocks drain after capture ends.
type App struct {
	src source.Source
	cfg *config.Config
	log zerolog.Logger
	out io.Writer
}

func New(cfg Config) *App {
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}
	return &App{
		src: cfg.Source,
		cfg: cfg.Config,
		log: cfg.Logger,
		out: out,
	}
}

// Run records until ctx is canceled or the stream reports an asynchronous
// error. The returned error is nil for a user-initiated stop.
func (a *App) Run(ctx context.Context) error {
	path, err := a.cfg.OutputPath()
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}

	sink, err := writer.NewWAVSink(path, a.cfg.SampleRate, a.cfg.Channels, a.cfg.BitDepth())
	if err != nil {
		return err
	}

	queue := writer.New(sink, a.cfg.SampleRate, a.log)
	session := capture.NewSession(a.src, queue, a.cfg.Browser, source.StreamConfig{
		SampleRate:       a.cfg.SampleRate,
		Channels:         a.cfg.Channels,
		ExcludeSelfAudio: true,
	}, a.log)

	queue.Start()
	a.log.Info().Str("path", path).Msg("Writing audio")

	if err := session.Start(ctx); err != nil {
		queue.Stop()
		return err
	}

	fmt.Fprintf(a.out, "\nRecording... Press Ctrl+C to stop.\n\n")

	// Capture always stops before the queue so blocks enqueued up to the end
	// of the stream still drain to disk.
	defer func() {
		session.Stop()
		queue.Stop()
		fmt.Fprintf(a.out, "\nRecording saved: %s\n", path)
		fmt.Fprintf(a.out, "Duration: %.2f seconds (%d frames)\n",
			queue.Duration(), queue.FramesWritten())
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprintf(a.out, "\r  Duration: %.1fs | Frames: %d    ",
				session.Duration(), session.FramesWritten())

			if err := session.Err(); err != nil {
				return fmt.Errorf("capture error: %w", err)
			}
		}
	}
}
