package audio_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/celestial/pkg/audio"
)

func TestFloatsToPCM16_Rails(t *testing.T) {
	t.Parallel()

	got := bytesToSamples(audio.FloatsToPCM16([]float32{-1, 0, 1, 0.5, -0.5}))
	want := []int16{-32768, 0, 32767, 16384, -16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloatsToPCM16_Clamps(t *testing.T) {
	t.Parallel()

	got := bytesToSamples(audio.FloatsToPCM16([]float32{1.5, -3, float32(math.NaN())}))
	want := []int16{32767, -32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16RoundTrip_WithinQuantizationStep(t *testing.T) {
	t.Parallel()

	in := make([]float32, 0, 401)
	for i := -200; i <= 200; i++ {
		in = append(in, float32(i)/200)
	}
	got := bytesToSamples(audio.FloatsToPCM16(in))
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i, n := range got {
		// Reinterpret with the same per-sign scale the encoder used.
		scale := 32767.0
		if n < 0 {
			scale = 32768
		}
		back := float64(n) / scale
		if d := math.Abs(back - float64(in[i])); d > 1.0/32768 {
			t.Errorf("sample %d: |%v - %v| = %v exceeds one quantization step", i, back, in[i], d)
		}
	}
}

func TestPCM16ToFloats_Normalizes(t *testing.T) {
	t.Parallel()

	out, err := audio.PCM16ToFloats(samplesToBytes([]int16{-32768, -16384, 0, 16384, 32767}))
	if err != nil {
		t.Fatalf("PCM16ToFloats: %v", err)
	}
	want := []float32{-1, -0.5, 0, 0.5, 32767.0 / 32768}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestPCM16ToFloats_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.PCM16ToFloats([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrMalformedPCM) {
		t.Fatalf("err = %v, want ErrMalformedPCM", err)
	}
}

func TestTransportRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x80, 0xff, 0x7f, 0x01}
	enc := audio.EncodeTransport(pcm)
	dec, err := audio.DecodeTransport(enc)
	if err != nil {
		t.Fatalf("DecodeTransport: %v", err)
	}
	if string(dec) != string(pcm) {
		t.Errorf("round trip = %v, want %v", dec, pcm)
	}
	if _, err := audio.DecodeTransport("not base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	c := audio.EncodeFrame(make([]float32, 2080), audio.InputSampleRate)
	if len(c.Payload) != 4160 {
		t.Errorf("payload = %d bytes, want 4160", len(c.Payload))
	}
	if got := c.MIMEType(); got != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType() = %q, want audio/pcm;rate=16000", got)
	}
}

func TestFrameSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate   int
		window time.Duration
		want   int
	}{
		{16000, 130 * time.Millisecond, 2080},
		{16000, 128 * time.Millisecond, 2048},
		{24000, time.Second, 24000},
		{0, time.Second, 0},
	}
	for _, tt := range tests {
		if got := audio.FrameSize(tt.rate, tt.window); got != tt.want {
			t.Errorf("FrameSize(%d, %v) = %d, want %d", tt.rate, tt.window, got, tt.want)
		}
	}
}

func TestParseMIMEType(t *testing.T) {
	t.Parallel()

	enc, rate, err := audio.ParseMIMEType("audio/pcm;rate=24000")
	if err != nil {
		t.Fatalf("ParseMIMEType: %v", err)
	}
	if enc != audio.EncodingPCM16 || rate != 24000 {
		t.Errorf("got (%q, %d), want (audio/pcm, 24000)", enc, rate)
	}

	if _, rate, err := audio.ParseMIMEType("audio/pcm"); err != nil || rate != 0 {
		t.Errorf("bare tag: rate=%d err=%v, want 0, nil", rate, err)
	}
	if _, _, err := audio.ParseMIMEType("audio/opus;rate=48000"); !errors.Is(err, audio.ErrUnsupportedEncoding) {
		t.Errorf("opus: err = %v, want ErrUnsupportedEncoding", err)
	}
	if _, _, err := audio.ParseMIMEType("audio/pcm;rate=fast"); err == nil {
		t.Error("expected error for non-numeric rate")
	}
}
