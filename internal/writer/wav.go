package writer

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/petems/audiograbber/internal/pcm"
)

// wavSink writes frame blocks into a WAV container incrementally. It is only
// ever used from the writer goroutine, so it carries no locking.
type wavSink struct {
	file     *os.File
	enc      *wav.Encoder
	format   *audio.Format
	bitDepth int
}

// NewWAVSink creates the output file and a PCM WAV encoder over it.
func NewWAVSink(path string, sampleRate, channels, bitDepth int) (Sink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	// Audio format 1 is linear PCM.
	enc := wav.NewEncoder(file, sampleRate, bitDepth, channels, 1)

	return &wavSink{
		file: file,
		enc:  enc,
		format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		bitDepth: bitDepth,
	}, nil
}

func (s *wavSink) WriteFrames(block *pcm.FrameBlock) error {
	buf := &audio.IntBuffer{
		Format:         s.format,
		SourceBitDepth: s.bitDepth,
		Data:           make([]int, len(block.Data)),
	}

	max := (1 << (s.bitDepth - 1)) - 1
	min := -(1 << (s.bitDepth - 1))
	for i, sample := range block.Data {
		v := int(sample * float32(max))
		if v > max {
			v = max
		} else if v < min {
			v = min
		}
		buf.Data[i] = v
	}

	return s.enc.Write(buf)
}

// Close finalizes the WAV header and closes the file.
func (s *wavSink) Close() error {
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}
