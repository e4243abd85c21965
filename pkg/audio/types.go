package audio

import (
	"errors"
	"fmt"
	"mime"
	"strconv"
)

// Encoding names the sample format carried by a [Chunk].
type Encoding string

// EncodingPCM16 is raw signed 16-bit little-endian mono PCM.
const EncodingPCM16 Encoding = "audio/pcm"

const (
	// InputSampleRate is the rate the remote model expects microphone audio at.
	InputSampleRate = 16000

	// OutputSampleRate is the rate synthesized speech arrives at.
	OutputSampleRate = 24000
)

// ErrUnsupportedEncoding is returned when a chunk carries anything other than
// [EncodingPCM16].
var ErrUnsupportedEncoding = errors.New("audio: unsupported encoding")

// Chunk is one unit of encoded audio travelling to or from the remote model.
// Outbound chunks are produced by the capture path; inbound chunks arrive on
// the session event stream.
type Chunk struct {
	// Encoding is the sample format of Payload.
	Encoding Encoding

	// SampleRate in Hz. Zero on an inbound chunk means the tag omitted it and
	// [OutputSampleRate] is assumed.
	SampleRate int

	// Payload is the encoded sample data.
	Payload []byte
}

// MIMEType returns the wire tag for c, e.g. "audio/pcm;rate=16000".
func (c Chunk) MIMEType() string {
	enc := c.Encoding
	if enc == "" {
		enc = EncodingPCM16
	}
	if c.SampleRate <= 0 {
		return string(enc)
	}
	return fmt.Sprintf("%s;rate=%d", enc, c.SampleRate)
}

// ParseMIMEType parses a wire tag such as "audio/pcm;rate=24000". A missing
// rate parameter yields a zero rate.
func ParseMIMEType(tag string) (Encoding, int, error) {
	mediaType, params, err := mime.ParseMediaType(tag)
	if err != nil {
		return "", 0, fmt.Errorf("audio: parse mime type %q: %w", tag, err)
	}
	if Encoding(mediaType) != EncodingPCM16 {
		return "", 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, mediaType)
	}
	raw, ok := params["rate"]
	if !ok {
		return EncodingPCM16, 0, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return "", 0, fmt.Errorf("audio: invalid rate %q in mime type %q", raw, tag)
	}
	return EncodingPCM16, rate, nil
}
