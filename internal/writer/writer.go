package writer

import (
	"sync"
	"time"

	"github.com/petems/audiograbber/internal/pcm"
	"github.com/rs/zerolog"
)

// Sink receives decoded frame blocks, in order, from the writer goroutine.
// Implementations own all blocking I/O; nothing else in the pipeline touches
// the storage layer.
type Sink interface {
	WriteFrames(block *pcm.FrameBlock) error
	Close() error
}

// joinTimeout bounds how long Stop waits for the writer goroutine to drain.
// Expiry is logged and shutdown proceeds anyway: bounded shutdown latency is
// preferred over an unconditional drain guarantee.
const joinTimeout = 5 * time.Second

// Writer is an asynchronous, ordered hand-off between the capture callback
// and a dedicated goroutine that serializes frame blocks to a sink. Enqueue
// never blocks and never drops while the writer is running; the queue is
// unbounded.
type Writer struct {
	sink       Sink
	sampleRate int
	log        zerolog.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []*pcm.FrameBlock
	running       bool
	framesWritten int64
	done          chan struct{}
}

// New creates a writer over the given sink. The sink must be ready to accept
// writes; the writer closes it during Stop.
func New(sink Sink, sampleRate int, log zerolog.Logger) *Writer {
	w := &Writer{
		sink:       sink,
		sampleRate: sampleRate,
		log:        log,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start launches the writer goroutine. Calling Start on a running writer is a
// no-op.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.framesWritten = 0
	w.done = make(chan struct{})

	go w.loop()
}

// Enqueue hands a frame block to the writer goroutine. Blocks arriving after
// Stop are silently discarded; data delivered after shutdown is intentionally
// dropped rather than surfaced as an error.
func (w *Writer) Enqueue(block *pcm.FrameBlock) {
	if block == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.queue = append(w.queue, block)
	w.cond.Signal()
}

// loop is the writer goroutine. It drains the queue in FIFO order until it
// pops the nil sentinel; real blocks enqueued before the sentinel are always
// written first.
func (w *Writer) loop() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 {
			w.cond.Wait()
		}
		block := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if block == nil {
			return
		}

		if err := w.sink.WriteFrames(block); err != nil {
			// Best effort: a single failed write drops that block and the
			// loop continues with the next one.
			w.log.Error().Err(err).Msg("Failed to write frame block")
			continue
		}

		w.mu.Lock()
		w.framesWritten += int64(block.Frames())
		w.mu.Unlock()
	}
}

// Stop enqueues the end-of-stream sentinel, waits up to joinTimeout for the
// writer goroutine to drain, then closes the sink. Calling Stop on a stopped
// writer is a no-op.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.queue = append(w.queue, nil)
	w.cond.Signal()
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(joinTimeout):
		w.log.Warn().Msg("Timed out waiting for writer to drain; closing anyway")
	}

	if err := w.sink.Close(); err != nil {
		w.log.Warn().Err(err).Msg("Failed to close sink")
	}

	w.log.Info().
		Int64("frames", w.FramesWritten()).
		Float64("seconds", w.Duration()).
		Msg("Recording finished")
}

// FramesWritten reports the cumulative frame count. Safe from any goroutine.
func (w *Writer) FramesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framesWritten
}

// Duration reports the recorded duration in seconds.
func (w *Writer) Duration() float64 {
	if w.sampleRate <= 0 {
		return 0
	}
	return float64(w.FramesWritten()) / float64(w.sampleRate)
}
