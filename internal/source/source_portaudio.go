//go:build !darwin

package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/petems/audiograbber/internal/pcm"
)

const framesPerBuffer = 512

// portAudioSource is the capture backend for platforms without
// ScreenCaptureKit. It records from an input device (typically a loopback or
// monitor device, so that application audio is what arrives) and delivers
// interleaved float32 buffers just like the darwin bridge does.
type portAudioSource struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	quit    chan struct{}
	done    chan struct{}
	handler Handler
}

type portAudioFilter struct {
	target Target
	device *portaudio.DeviceInfo
}

func (f portAudioFilter) Target() Target { return f.target }

// New creates the PortAudio-backed capture source.
func New() (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioSource{}, nil
}

// ResolveTarget finds an input device by name. An empty or unknown browser
// name falls back to the default input device, which is where a loopback
// module exposes application audio.
func (s *portAudioSource) ResolveTarget(ctx context.Context, name string) (Filter, error) {
	device, err := findDevice(name)
	if err != nil {
		return nil, err
	}
	return portAudioFilter{
		target: Target{Name: device.Name},
		device: device,
	}, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}

	// Browser names mean nothing to PortAudio; record the default device.
	if _, known := BundleIDFor(name); known {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	return nil, fmt.Errorf("%w: no input device named %q", ErrTargetNotFound, name)
}

func (s *portAudioSource) Begin(ctx context.Context, filter Filter, cfg StreamConfig, h Handler) error {
	pf, ok := filter.(portAudioFilter)
	if !ok {
		return errors.New("filter does not belong to the PortAudio backend")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return errors.New("capture already in progress")
	}

	buffer := make([]float32, framesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   pf.device,
			Channels: cfg.Channels,
			Latency:  pf.device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, buffer)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	s.stream = stream
	s.handler = h
	s.quit = make(chan struct{})
	s.done = make(chan struct{})

	desc := pcm.Descriptor{
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		BitsPerChannel: 32,
		IsFloat:        true,
	}

	go s.readLoop(stream, buffer, desc, h, s.quit, s.done)
	return nil
}

func (s *portAudioSource) readLoop(stream *portaudio.Stream, buffer []float32, desc pcm.Descriptor, h Handler, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		default:
			if err := stream.Read(); err != nil {
				// Stop unblocks Read with an error; only surface it when the
				// stream failed on its own.
				select {
				case <-quit:
				default:
					h.OnStreamError(fmt.Errorf("audio stream read failed: %w", err))
				}
				return
			}
			h.OnBuffer(encodeFloat32LE(buffer), desc)
		}
	}
}

func (s *portAudioSource) End(ctx context.Context) error {
	s.mu.Lock()
	stream := s.stream
	quit := s.quit
	done := s.done
	s.stream = nil
	s.handler = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}

	close(quit)
	stopErr := stream.Stop()

	select {
	case <-done:
	case <-ctx.Done():
	}

	stream.Close()
	if stopErr != nil {
		return fmt.Errorf("failed to stop audio stream: %w", stopErr)
	}
	return nil
}

func (s *portAudioSource) ListTargets(ctx context.Context) ([]Target, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	targets := make([]Target, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			targets = append(targets, Target{Name: d.Name})
		}
	}
	return targets, nil
}

func (s *portAudioSource) Close() error {
	portaudio.Terminate()
	return nil
}

// encodeFloat32LE packs interleaved samples into the byte layout the decoder
// expects. The read buffer is reused between callbacks, so the copy here is
// what hands ownership downstream.
func encodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
