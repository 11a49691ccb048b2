package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/voiceomni/linebridge/internal/audio"
)

func TestDecodeStart(t *testing.T) {
	raw := []byte(`{"event":"start","streamSid":"MZ1","start":{"callSid":"CA1","streamSid":"MZ1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Event != EventStart {
		t.Fatalf("event = %q, want start", msg.Event)
	}
	if msg.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", msg.Start.MediaFormat.SampleRate)
	}
}

func TestDecodeMediaToFrame(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	raw := []byte(`{"event":"media","media":{"track":"inbound","payload":"` + payload + `"}}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	f, err := msg.Media.Frame(MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000}, 3, 60)
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if f.Encoding != audio.EncodingMulaw || f.SampleRate != 8000 || f.Seq != 3 {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if len(f.Payload) != 160 {
		t.Fatalf("payload length = %d, want 160", len(f.Payload))
	}
}

func TestDecodeUnknownEventIgnorable(t *testing.T) {
	_, err := Decode([]byte(`{"event":"ping"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("Decode() error = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeMalformedMedia(t *testing.T) {
	_, err := Decode([]byte(`{"event":"media"}`))
	if err == nil || errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("Decode() error = %v, want validation error", err)
	}
}

func TestEncodeMediaRoundShape(t *testing.T) {
	f := audio.Frame{Encoding: audio.EncodingPCM16, SampleRate: 24000, Payload: []byte{1, 2, 3, 4}}
	raw, err := EncodeMedia("MZ9", f)
	if err != nil {
		t.Fatalf("EncodeMedia() error = %v", err)
	}
	var out StreamMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal encoded media: %v", err)
	}
	if out.Event != EventMedia || out.StreamSid != "MZ9" || out.Media == nil {
		t.Fatalf("unexpected encoded message: %+v", out)
	}
	decoded, err := base64.StdEncoding.DecodeString(out.Media.Payload)
	if err != nil || len(decoded) != 4 {
		t.Fatalf("payload round trip failed: %v %v", decoded, err)
	}
}

func TestEncodeClear(t *testing.T) {
	raw, err := EncodeClear("MZ9")
	if err != nil {
		t.Fatalf("EncodeClear() error = %v", err)
	}
	var out StreamMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal clear: %v", err)
	}
	if out.Event != EventClear || out.StreamSid != "MZ9" {
		t.Fatalf("unexpected clear message: %+v", out)
	}
}

func TestConnectStreamResponse(t *testing.T) {
	body, err := ConnectStreamResponse("Connecting you now.", "wss://example.com/media-stream/bot-1")
	if err != nil {
		t.Fatalf("ConnectStreamResponse() error = %v", err)
	}
	s := string(body)
	if !strings.Contains(s, "<Say>Connecting you now.</Say>") {
		t.Fatalf("missing Say verb: %s", s)
	}
	if !strings.Contains(s, `<Stream url="wss://example.com/media-stream/bot-1">`) &&
		!strings.Contains(s, `<Stream url="wss://example.com/media-stream/bot-1"/>`) {
		t.Fatalf("missing Stream verb: %s", s)
	}
}

func TestConnectStreamResponseNoAnnouncement(t *testing.T) {
	body, err := ConnectStreamResponse("", "wss://example.com/media-stream/bot-1")
	if err != nil {
		t.Fatalf("ConnectStreamResponse() error = %v", err)
	}
	if strings.Contains(string(body), "<Say>") {
		t.Fatalf("Say should be omitted when empty: %s", body)
	}
}
