// Package source abstracts the platform media-capture service that owns the
// audio stream and delivers sample buffers asynchronously. On macOS the
// implementation is a ScreenCaptureKit bridge; elsewhere a PortAudio input
// stream stands in so the rest of the pipeline behaves identically.
package source

import (
	"context"
	"errors"

	"github.com/petems/audiograbber/internal/pcm"
)

// Target is a capturable application (or input device on the fallback
// backend).
type Target struct {
	Name     string
	BundleID string
	PID      int
}

// Filter is an opaque, backend-specific handle describing what to capture.
// Obtain one from ResolveTarget and pass it unmodified to Begin.
type Filter interface {
	Target() Target
}

// StreamConfig is the capture configuration handed to Begin.
type StreamConfig struct {
	SampleRate       int
	Channels         int
	ExcludeSelfAudio bool
}

// Handler receives delivery callbacks on the source's own thread. OnBuffer
// must not block; it is invoked once per arriving buffer at audio-rate
// cadence. OnStreamError reports asynchronous stream termination and does not
// imply delivery has stopped being attempted.
type Handler interface {
	OnBuffer(raw []byte, desc pcm.Descriptor)
	OnStreamError(err error)
}

// Source is the capture backend consumed by the session lifecycle. Begin and
// End honor context cancellation for their bounded waits.
type Source interface {
	ResolveTarget(ctx context.Context, name string) (Filter, error)
	Begin(ctx context.Context, filter Filter, cfg StreamConfig, h Handler) error
	End(ctx context.Context) error
	ListTargets(ctx context.Context) ([]Target, error)
	Close() error
}

// TransientError marks a begin-capture failure that is expected to resolve
// itself on retry. The session retries these up to its attempt cap; anything
// else surfaces immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrTargetNotFound is returned by ResolveTarget when the requested target is
// not running or not known to the backend.
var ErrTargetNotFound = errors.New("capture target not found")
