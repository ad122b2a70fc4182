//go:build darwin

package source

/*
#cgo CFLAGS: -fobjc-arc
#cgo LDFLAGS: -framework ScreenCaptureKit -framework CoreMedia -framework Foundation

#include <stdlib.h>
#include "sck_darwin.h"
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/petems/audiograbber/internal/pcm"
)

// darwinSource captures application audio through ScreenCaptureKit. All
// platform calls are asynchronous; each one gets a sequence number and a
// single-slot completion channel, and the bridge reports back through the
// exported callbacks below.
type darwinSource struct {
	handle cgo.Handle

	mu      sync.Mutex
	handler Handler
	seq     int64
	pending map[int64]*pendingOp
}

type pendingOp struct {
	done    chan error
	targets []Target
}

type darwinFilter struct {
	target Target
}

func (f darwinFilter) Target() Target { return f.target }

// New creates the ScreenCaptureKit-backed capture source. Callers must hold
// screen-recording permission before Begin; see the permissions package.
func New() (Source, error) {
	s := &darwinSource{
		pending: make(map[int64]*pendingOp),
	}
	s.handle = cgo.NewHandle(s)
	return s, nil
}

func (s *darwinSource) newOp() (int64, *pendingOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	op := &pendingOp{done: make(chan error, 1)}
	s.pending[s.seq] = op
	return s.seq, op
}

func (s *darwinSource) dropOp(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, seq)
}

func (s *darwinSource) takeOp(seq int64) *pendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.pending[seq]
	delete(s.pending, seq)
	return op
}

func (s *darwinSource) peekOp(seq int64) *pendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[seq]
}

// ListTargets enumerates every application the platform will let us capture.
func (s *darwinSource) ListTargets(ctx context.Context) ([]Target, error) {
	seq, op := s.newOp()
	C.ag_list_targets(C.uintptr_t(s.handle), C.long(seq))

	select {
	case err := <-op.done:
		if err != nil {
			return nil, fmt.Errorf("failed to list capture targets: %w", err)
		}
		return op.targets, nil
	case <-ctx.Done():
		s.dropOp(seq)
		return nil, ctx.Err()
	}
}

// ResolveTarget maps a browser name to a running application.
func (s *darwinSource) ResolveTarget(ctx context.Context, name string) (Filter, error) {
	bundleID, ok := BundleIDFor(name)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported browser %q", ErrTargetNotFound, name)
	}

	targets, err := s.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if t.BundleID == bundleID {
			return darwinFilter{target: t}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not running", ErrTargetNotFound, name)
}

// Begin builds the content filter and stream configuration on the platform
// side, registers the delivery handler, and waits for the asynchronous
// start-capture acknowledgment (bounded by ctx).
func (s *darwinSource) Begin(ctx context.Context, filter Filter, cfg StreamConfig, h Handler) error {
	df, ok := filter.(darwinFilter)
	if !ok {
		return errors.New("filter does not belong to the ScreenCaptureKit backend")
	}

	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()

	seq, op := s.newOp()
	bundleID := C.CString(df.target.BundleID)
	defer C.free(unsafe.Pointer(bundleID))

	exclude := C.int(0)
	if cfg.ExcludeSelfAudio {
		exclude = 1
	}
	C.ag_begin_capture(C.uintptr_t(s.handle), C.long(seq), bundleID,
		C.int(cfg.SampleRate), C.int(cfg.Channels), exclude)

	select {
	case err := <-op.done:
		if err != nil {
			s.clearHandler()
			return fmt.Errorf("failed to start capture: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.dropOp(seq)
		s.clearHandler()
		return ctx.Err()
	}
}

// End issues the asynchronous stop-capture request and waits for its
// acknowledgment (bounded by ctx).
func (s *darwinSource) End(ctx context.Context) error {
	seq, op := s.newOp()
	C.ag_end_capture(C.uintptr_t(s.handle), C.long(seq))

	select {
	case err := <-op.done:
		s.clearHandler()
		if err != nil {
			return fmt.Errorf("failed to stop capture: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.dropOp(seq)
		s.clearHandler()
		return ctx.Err()
	}
}

func (s *darwinSource) clearHandler() {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
}

func (s *darwinSource) Close() error {
	s.clearHandler()
	s.handle.Delete()
	return nil
}

func restoreSource(h C.uintptr_t) *darwinSource {
	v := cgo.Handle(h).Value()
	s, _ := v.(*darwinSource)
	return s
}

//export agOnBuffer
func agOnBuffer(h C.uintptr_t, data unsafe.Pointer, length, sampleRate, channels, bits, isFloat, isPlanar C.int) {
	s := restoreSource(h)
	if s == nil || data == nil || length <= 0 {
		return
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}

	// The bridge frees its copy when we return, so take ownership here.
	raw := C.GoBytes(data, length)
	handler.OnBuffer(raw, pcm.Descriptor{
		SampleRate:     int(sampleRate),
		Channels:       int(channels),
		BitsPerChannel: int(bits),
		IsFloat:        isFloat != 0,
		IsPlanar:       isPlanar != 0,
	})
}

//export agOnStreamStopped
func agOnStreamStopped(h C.uintptr_t, msg *C.char) {
	s := restoreSource(h)
	if s == nil {
		return
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}

	handler.OnStreamError(errors.New(C.GoString(msg)))
}

//export agOnTarget
func agOnTarget(h C.uintptr_t, seq C.long, name, bundleID *C.char, pid C.int) {
	s := restoreSource(h)
	if s == nil {
		return
	}
	op := s.peekOp(int64(seq))
	if op == nil {
		return
	}
	op.targets = append(op.targets, Target{
		Name:     C.GoString(name),
		BundleID: C.GoString(bundleID),
		PID:      int(pid),
	})
}

//export agOnDone
func agOnDone(h C.uintptr_t, seq C.long, errMsg *C.char, transient C.int) {
	s := restoreSource(h)
	if s == nil {
		return
	}
	op := s.takeOp(int64(seq))
	if op == nil {
		// The waiter gave up (context expired); nothing to deliver to.
		return
	}

	var err error
	if errMsg != nil {
		err = errors.New(C.GoString(errMsg))
		if transient != 0 {
			err = &TransientError{Err: err}
		}
	}
	op.done <- err
}
