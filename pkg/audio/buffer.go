package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyChunk is returned by [Decode] for a chunk without samples.
var ErrEmptyChunk = errors.New("audio: empty chunk")

// Buffer is decoded mono audio ready to be scheduled on an output device.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of sample frames in b.
func (b *Buffer) Len() int { return len(b.Samples) }

// Seconds returns the playback length of b in seconds.
func (b *Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Duration returns the playback length of b.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(b.Samples)) * int64(time.Second) / int64(b.SampleRate))
}

// Decode turns an inbound chunk into a playable buffer at targetRate. When the
// chunk's rate differs the PCM is linearly resampled before conversion. A
// non-positive targetRate keeps the chunk's own rate.
func Decode(c Chunk, targetRate int) (*Buffer, error) {
	if c.Encoding != "" && c.Encoding != EncodingPCM16 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, c.Encoding)
	}
	if len(c.Payload) == 0 {
		return nil, ErrEmptyChunk
	}
	if len(c.Payload)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPCM, len(c.Payload))
	}

	rate := c.SampleRate
	if rate <= 0 {
		rate = OutputSampleRate
	}
	pcm := c.Payload
	if targetRate > 0 && targetRate != rate {
		pcm = ResampleMono16(pcm, rate, targetRate)
		rate = targetRate
	}

	samples, err := PCM16ToFloats(pcm)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrEmptyChunk
	}
	return &Buffer{Samples: samples, SampleRate: rate}, nil
}

// FrameSize returns the number of samples covering window at sampleRate,
// e.g. 2080 for 130ms at 16 kHz.
func FrameSize(sampleRate int, window time.Duration) int {
	if sampleRate <= 0 || window <= 0 {
		return 0
	}
	return int(int64(sampleRate) * int64(window) / int64(time.Second))
}
