// Package audio holds the audio primitives shared by the capture and playback
// paths: the PCM16 codec, the transport encoding used on the wire, decoded
// playback buffers and a level meter for visualizers.
//
// Device access lives in the device and portaudio subpackages; this package
// never touches hardware.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedPCM is returned when a PCM16 payload has an odd byte count.
var ErrMalformedPCM = errors.New("audio: malformed pcm16 payload")

// FloatsToPCM16 quantizes float samples in [-1, 1] to little-endian int16.
// Out-of-range input is clamped first. Negative values scale by 32768 and
// non-negative values by 32767 so both rails are reachable.
func FloatsToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

func quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = max(-1, min(1, v))
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// PCM16ToFloats converts little-endian int16 PCM to floats in [-1, 1) by
// dividing each sample by 32768.
func PCM16ToFloats(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPCM, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// EncodeTransport renders PCM bytes as standard base64 for the JSON wire
// format.
func EncodeTransport(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeTransport reverses [EncodeTransport].
func DecodeTransport(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode transport: %w", err)
	}
	return pcm, nil
}

// EncodeFrame quantizes a captured frame into an outbound [Chunk] at rate.
func EncodeFrame(samples []float32, rate int) Chunk {
	return Chunk{
		Encoding:   EncodingPCM16,
		SampleRate: rate,
		Payload:    FloatsToPCM16(samples),
	}
}
