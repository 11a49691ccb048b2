package audio

import "time"

// Encoding identifies the byte layout of a frame payload.
type Encoding string

const (
	// EncodingMulaw is 8-bit mu-law, the telephony leg's native format.
	EncodingMulaw Encoding = "mulaw"
	// EncodingPCM16 is 16-bit little-endian PCM, the engine leg's format.
	EncodingPCM16 Encoding = "pcm16"
)

// Frame is one transient chunk of streamed call audio. Frames are produced
// continuously by both legs and are never persisted.
type Frame struct {
	Encoding   Encoding
	SampleRate int
	Seq        int
	TSMs       int64
	Payload    []byte
}

// Duration computes the playback duration of the frame from its payload
// size, encoding and declared sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || len(f.Payload) == 0 {
		return 0
	}
	samples := len(f.Payload) / f.Encoding.BytesPerSample()
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// BytesPerSample returns the storage size of one mono sample.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingPCM16:
		return 2
	default:
		return 1
	}
}
