package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/petems/audiograbber/internal/pcm"
	"github.com/petems/audiograbber/internal/source"
	"github.com/petems/audiograbber/internal/writer"
)

type fakeFilter struct {
	target source.Target
}

func (f fakeFilter) Target() source.Target { return f.target }

// fakeSource scripts Begin results and hands the registered handler back to
// the test so it can play the delivery thread.
type fakeSource struct {
	mu          sync.Mutex
	beginErrs   []error
	beginCalls  int
	endCalls    int
	handler     source.Handler
	resolveErr  error
	targetsSeen []string
}

func (f *fakeSource) ResolveTarget(ctx context.Context, name string) (source.Filter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targetsSeen = append(f.targetsSeen, name)
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return fakeFilter{target: source.Target{Name: name}}, nil
}

func (f *fakeSource) Begin(ctx context.Context, filter source.Filter, cfg source.StreamConfig, h source.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.beginCalls
	f.beginCalls++
	if call < len(f.beginErrs) && f.beginErrs[call] != nil {
		return f.beginErrs[call]
	}
	f.handler = h
	return nil
}

func (f *fakeSource) End(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	f.handler = nil
	return nil
}

func (f *fakeSource) ListTargets(ctx context.Context) ([]source.Target, error) {
	return nil, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginCalls
}

func (f *fakeSource) deliver(raw []byte, desc pcm.Descriptor) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.OnBuffer(raw, desc)
	}
}

func (f *fakeSource) failStream(err error) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.OnStreamError(err)
	}
}

type discardSink struct{}

func (discardSink) WriteFrames(*pcm.FrameBlock) error { return nil }
func (discardSink) Close() error                      { return nil }

func newTestSession(src source.Source) (*Session, *writer.Writer) {
	q := writer.New(discardSink{}, 48000, zerolog.Nop())
	cfg := source.StreamConfig{SampleRate: 48000, Channels: 2, ExcludeSelfAudio: true}
	return NewSession(src, q, "Safari", cfg, zerolog.Nop()), q
}

func floatBytes(samples ...float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func TestStartSuccess(t *testing.T) {
	src := &fakeSource{}
	sess, q := newTestSession(src)
	q.Start()
	defer q.Stop()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if !sess.IsRunning() {
		t.Fatal("session should be running after Start")
	}
	if sess.State() != Running {
		t.Fatalf("expected Running, got %s", sess.State())
	}
}

func TestStartIsNoOpWhenRunning(t *testing.T) {
	src := &fakeSource{}
	sess, q := newTestSession(src)
	q.Start()
	defer q.Stop()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got: %v", err)
	}
	if got := src.begins(); got != 1 {
		t.Fatalf("expected 1 begin call, got %d", got)
	}
}

func TestTransientStartRetriesThreeTimes(t *testing.T) {
	final := &source.TransientError{Err: errors.New("stream not ready")}
	src := &fakeSource{beginErrs: []error{
		&source.TransientError{Err: errors.New("try 1")},
		&source.TransientError{Err: errors.New("try 2")},
		final,
	}}
	sess, _ := newTestSession(src)

	err := sess.Start(context.Background())
	if err == nil {
		t.Fatal("expected start to fail")
	}
	if !errors.Is(err, final) {
		t.Fatalf("expected the third failure's error, got: %v", err)
	}
	if got := src.begins(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if sess.State() != Failed {
		t.Fatalf("expected Failed, got %s", sess.State())
	}
	if sess.Err() == nil {
		t.Fatal("last error should be recorded")
	}
}

func TestNonTransientStartFailsImmediately(t *testing.T) {
	src := &fakeSource{beginErrs: []error{errors.New("permission revoked")}}
	sess, _ := newTestSession(src)

	if err := sess.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if got := src.begins(); got != 1 {
		t.Fatalf("expected no retry on non-transient failure, got %d attempts", got)
	}
}

func TestTransientThenSuccess(t *testing.T) {
	src := &fakeSource{beginErrs: []error{
		&source.TransientError{Err: errors.New("try 1")},
	}}
	sess, q := newTestSession(src)
	q.Start()
	defer q.Stop()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got: %v", err)
	}
	if got := src.begins(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if !sess.IsRunning() {
		t.Fatal("session should be running")
	}
}

func TestResolveFailure(t *testing.T) {
	src := &fakeSource{resolveErr: source.ErrTargetNotFound}
	sess, _ := newTestSession(src)

	err := sess.Start(context.Background())
	if !errors.Is(err, source.ErrTargetNotFound) {
		t.Fatalf("expected target-not-found, got: %v", err)
	}
	if sess.State() != Failed {
		t.Fatalf("expected Failed, got %s", sess.State())
	}
	if got := src.begins(); got != 0 {
		t.Fatalf("begin should not be attempted, got %d calls", got)
	}
}

func TestStopBeforeStartIsNoOp(t *testing.T) {
	src := &fakeSource{}
	sess, _ := newTestSession(src)

	sess.Stop()

	if src.endCalls != 0 {
		t.Fatal("End should not be called")
	}
	if sess.State() != Idle {
		t.Fatalf("state should remain Idle, got %s", sess.State())
	}
	if sess.Err() != nil {
		t.Fatalf("no error expected, got %v", sess.Err())
	}
}

func TestStopTransitionsToStopped(t *testing.T) {
	src := &fakeSource{}
	sess, q := newTestSession(src)
	q.Start()
	defer q.Stop()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	sess.Stop()

	if sess.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", sess.State())
	}
	if src.endCalls != 1 {
		t.Fatalf("expected 1 end call, got %d", src.endCalls)
	}

	// A second Stop is a no-op.
	sess.Stop()
	if src.endCalls != 1 {
		t.Fatalf("repeated Stop should not call End again, got %d", src.endCalls)
	}
}

func TestDeliveredBuffersReachTheQueue(t *testing.T) {
	src := &fakeSource{}
	sess, q := newTestSession(src)
	q.Start()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	desc := pcm.Descriptor{SampleRate: 48000, Channels: 2, BitsPerChannel: 32, IsFloat: true}
	for i := 0; i < 100; i++ {
		src.deliver(floatBytes(make([]float32, 20)...), desc)
	}

	sess.Stop()
	q.Stop()

	if got := sess.FramesWritten(); got != 1000 {
		t.Fatalf("expected 1000 frames, got %d", got)
	}
	if diff := math.Abs(sess.Duration() - 1000.0/48000.0); diff > 1e-9 {
		t.Fatalf("expected duration ~0.0208s, got %f", sess.Duration())
	}
}

func TestUndecodableBufferIsSkipped(t *testing.T) {
	src := &fakeSource{}
	sess, q := newTestSession(src)
	q.Start()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	desc := pcm.Descriptor{SampleRate: 48000, Channels: 2, BitsPerChannel: 32, IsFloat: true}
	src.deliver(nil, desc)
	src.deliver([]byte{}, desc)

	if !sess.IsRunning() {
		t.Fatal("bad buffers must not stop the session")
	}

	sess.Stop()
	q.Stop()

	if got := sess.FramesWritten(); got != 0 {
		t.Fatalf("expected 0 frames, got %d", got)
	}
}

func TestAsyncStreamErrorIsRecordedNotFatal(t *testing.T) {
	src := &fakeSource{}
	sess, q := newTestSession(src)
	q.Start()
	defer q.Stop()

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	streamErr := errors.New("transport terminated")
	src.failStream(streamErr)

	if !sess.IsRunning() {
		t.Fatal("async error must not stop the session")
	}
	if !errors.Is(sess.Err(), streamErr) {
		t.Fatalf("expected recorded stream error, got: %v", sess.Err())
	}
}
