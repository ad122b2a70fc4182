package pcm

import (
	"encoding/binary"
	"math"
)

// Descriptor describes how to interpret a single raw sample buffer. It is
// derived fresh from each delivered buffer's format description and never
// persisted.
type Descriptor struct {
	SampleRate     int
	Channels       int
	BitsPerChannel int
	IsFloat        bool
	IsPlanar       bool
}

// FrameBlock is a decoded, channel-interleaved block of PCM samples
// normalized to [-1.0, 1.0]. Ownership transfers to the write queue on
// enqueue; producers must not touch a block after handing it off.
type FrameBlock struct {
	Data     []float32
	Channels int
}

// Frames returns the number of frames in the block.
func (b *FrameBlock) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Decode converts one raw buffer into a canonical frame block. It returns nil
// for empty or unusable input and never fails; callers skip nil results.
//
// 32-bit float data is read directly. 16-bit integer data is normalized by
// dividing by 32768. Any other encoding falls back to the 32-bit float
// interpretation.
func Decode(raw []byte, desc Descriptor) *FrameBlock {
	if len(raw) == 0 {
		return nil
	}

	var samples []float32
	if !desc.IsFloat && desc.BitsPerChannel == 16 {
		samples = decodeInt16(raw)
	} else {
		samples = decodeFloat32(raw)
	}
	if len(samples) == 0 {
		return nil
	}

	return shape(samples, desc)
}

func decodeFloat32(raw []byte) []float32 {
	n := len(raw) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

func decodeInt16(raw []byte) []float32 {
	n := len(raw) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// shape reconstructs the channel layout. Interleaved input is already in
// canonical order; planar stereo is re-interleaved from its two contiguous
// half runs. A sample count that does not divide evenly by the channel count
// is returned flat as a single channel.
func shape(samples []float32, desc Descriptor) *FrameBlock {
	switch {
	case desc.Channels <= 1:
		return &FrameBlock{Data: samples, Channels: 1}

	case desc.Channels == 2 && desc.IsPlanar:
		return &FrameBlock{Data: interleaveStereo(samples), Channels: 2}

	case len(samples)%desc.Channels == 0:
		return &FrameBlock{Data: samples, Channels: desc.Channels}

	default:
		return &FrameBlock{Data: samples, Channels: 1}
	}
}

// interleaveStereo zips the left run (first half) and right run (second half)
// into (L, R) pairs. A trailing odd sample is dropped.
func interleaveStereo(samples []float32) []float32 {
	half := len(samples) / 2
	left := samples[:half]
	right := samples[half : half*2]

	out := make([]float32, 0, half*2)
	for i := 0; i < half; i++ {
		out = append(out, left[i], right[i])
	}
	return out
}
