// Package capture owns the capture session lifecycle: the start/stop/retry
// state machine and the wiring from the platform delivery callback through
// the decoder into the write queue.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/audiograbber/internal/pcm"
	"github.com/petems/audiograbber/internal/source"
	"github.com/petems/audiograbber/internal/writer"
)

// State is the session lifecycle state. Transitions follow
// Idle -> Starting -> Running -> Stopping -> Stopped, with Starting -> Failed
// on an unrecoverable start error.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// maxStartAttempts bounds the transient-failure retry loop, total tries
	// included.
	maxStartAttempts = 3
	startBackoff     = time.Second
	startTimeout     = 10 * time.Second
	stopTimeout      = 5 * time.Second
)

// Session is one capture run against one target. Sessions are not reused; a
// new recording takes a new Session.
type Session struct {
	src    source.Source
	queue  *writer.Writer
	target string
	cfg    source.StreamConfig
	log    zerolog.Logger

	mu    sync.Mutex // serializes Start and Stop
	state atomic.Int32

	errMu   sync.Mutex
	lastErr error
}

// NewSession wires a capture source to a write queue for the given target.
func NewSession(src source.Source, queue *writer.Writer, target string, cfg source.StreamConfig, log zerolog.Logger) *Session {
	return &Session{
		src:    src,
		queue:  queue,
		target: target,
		cfg:    cfg,
		log:    log,
	}
}

// Start resolves the target, registers the delivery handler, and issues the
// begin-capture request. Transient start failures are retried up to
// maxStartAttempts total tries with a fixed backoff; any other failure (or
// exhausting the cap) surfaces the final error and leaves the session Failed.
// Start is a no-op when the session is already Running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == Running {
		return nil
	}
	s.setState(Starting)

	resolveCtx, cancel := context.WithTimeout(ctx, startTimeout)
	filter, err := s.src.ResolveTarget(resolveCtx, s.target)
	cancel()
	if err != nil {
		s.setState(Failed)
		s.recordErr(err)
		return fmt.Errorf("failed to resolve capture target: %w", err)
	}

	s.log.Info().
		Str("target", filter.Target().Name).
		Int("sample_rate", s.cfg.SampleRate).
		Int("channels", s.cfg.Channels).
		Msg("Starting audio capture")

	handler := &deliveryHandler{session: s}

	for attempt := 1; ; attempt++ {
		beginCtx, cancel := context.WithTimeout(ctx, startTimeout)
		err = s.src.Begin(beginCtx, filter, s.cfg, handler)
		cancel()

		if err == nil {
			s.setState(Running)
			return nil
		}
		if !source.IsTransient(err) || attempt >= maxStartAttempts {
			break
		}

		s.log.Warn().Err(err).
			Int("attempt", attempt).
			Msg("Transient start failure, retrying")

		select {
		case <-time.After(startBackoff):
		case <-ctx.Done():
			err = ctx.Err()
			s.setState(Failed)
			s.recordErr(err)
			return err
		}
	}

	s.setState(Failed)
	s.recordErr(err)
	return err
}

// Stop issues the end-capture request and always completes the transition to
// Stopped; end failures and timeouts are logged as warnings, never returned.
// Stop is a no-op unless the session is Running.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Running {
		return
	}
	s.setState(Stopping)

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := s.src.End(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Error stopping capture")
	}

	s.setState(Stopped)
	s.log.Info().Msg("Audio capture stopped")
}

// IsRunning reports whether the session is in the Running state.
func (s *Session) IsRunning() bool {
	return s.State() == Running
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the most recent error, including asynchronous stream errors
// reported after the session reached Running. An async error does not stop
// the session; callers observe it here and decide.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// FramesWritten reports the cumulative frames persisted by the write queue.
func (s *Session) FramesWritten() int64 {
	return s.queue.FramesWritten()
}

// Duration reports the recorded duration in seconds.
func (s *Session) Duration() float64 {
	return s.queue.Duration()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) recordErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// deliveryHandler runs on the source's delivery thread. It must never block:
// decode is bounded CPU-only work and enqueue is non-blocking by contract.
type deliveryHandler struct {
	session *Session
}

func (h *deliveryHandler) OnBuffer(raw []byte, desc pcm.Descriptor) {
	// A single bad buffer must never terminate the session.
	defer func() {
		if r := recover(); r != nil {
			h.session.log.Error().Interface("panic", r).Msg("Recovered while processing audio buffer")
		}
	}()

	block := pcm.Decode(raw, desc)
	if block == nil {
		return
	}
	h.session.queue.Enqueue(block)
}

func (h *deliveryHandler) OnStreamError(err error) {
	h.session.recordErr(err)
	h.session.log.Error().Err(err).Msg("Stream error")
}
