package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voiceomni/linebridge/internal/audio"
)

// Event discriminates media-stream wire messages on both directions.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventStop      Event = "stop"
	EventMark      Event = "mark"
	EventClear     Event = "clear"
)

// ErrUnknownEvent marks an unrecognized event tag. Callers drop the
// message and keep the stream alive.
var ErrUnknownEvent = errors.New("unknown stream event")

// StreamMessage is one tagged record on the carrier media stream.
type StreamMessage struct {
	Event          Event         `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// StartPayload carries stream metadata sent once when the carrier opens
// the media stream.
type StartPayload struct {
	AccountSid       string            `json:"accountSid,omitempty"`
	CallSid          string            `json:"callSid,omitempty"`
	StreamSid        string            `json:"streamSid,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat declares the encoding of the stream's media payloads.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload is one base64-encoded audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload carries call identifiers sent when the carrier ends the stream.
type StopPayload struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// Decode parses one inbound wire message. Messages with an unrecognized
// event tag return ErrUnknownEvent; malformed recognized messages return
// a validation error. Both are recoverable for the session.
func Decode(raw []byte) (StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return StreamMessage{}, fmt.Errorf("invalid stream message: %w", err)
	}
	switch msg.Event {
	case EventConnected, EventMark:
		return msg, nil
	case EventStart:
		if msg.Start == nil {
			return StreamMessage{}, errors.New("start message missing start payload")
		}
		return msg, nil
	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return StreamMessage{}, errors.New("media message missing payload")
		}
		return msg, nil
	case EventStop:
		return msg, nil
	default:
		return StreamMessage{}, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
}

// Frame converts a decoded media payload into an audio frame, using the
// stream's declared media format. The codec performs no resampling; the
// declared rate travels with the frame.
func (m *MediaPayload) Frame(format MediaFormat, seq int, tsMS int64) (audio.Frame, error) {
	payload, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("decode media payload: %w", err)
	}
	enc := audio.EncodingMulaw
	if format.Encoding == "audio/x-l16" || format.Encoding == "L16" {
		enc = audio.EncodingPCM16
	}
	rate := format.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	return audio.Frame{
		Encoding:   enc,
		SampleRate: rate,
		Seq:        seq,
		TSMs:       tsMS,
		Payload:    payload,
	}, nil
}

// EncodeMedia builds an outbound media message mirroring the inbound shape.
func EncodeMedia(streamSid string, f audio.Frame) ([]byte, error) {
	msg := StreamMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media: &MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(f.Payload),
		},
	}
	return json.Marshal(msg)
}

// EncodeClear builds the buffer-flush instruction sent to the carrier on
// barge-in so already-buffered agent audio stops playing.
func EncodeClear(streamSid string) ([]byte, error) {
	return json.Marshal(StreamMessage{Event: EventClear, StreamSid: streamSid})
}
