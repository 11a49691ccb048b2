package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceomni/linebridge/internal/bot"
	"github.com/voiceomni/linebridge/internal/tools"
)

func TestDecodeServerMessageAudio(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03, 0x04})
	raw := []byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + pcm + `"}}]}}}`)

	evs, err := decodeServerMessage(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Type != EventAudio {
		t.Fatalf("expected audio event, got %q", evs[0].Type)
	}
	if evs[0].SampleRate != 24000 {
		t.Fatalf("expected 24000 rate, got %d", evs[0].SampleRate)
	}
	if evs[0].AudioBase64 != pcm {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeServerMessageRateDefault(t *testing.T) {
	raw := []byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"AA=="}}]}}}`)

	evs, err := decodeServerMessage(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(evs) != 1 || evs[0].SampleRate != 24000 {
		t.Fatalf("expected default rate 24000, got %+v", evs)
	}
}

func TestDecodeServerMessageInterrupted(t *testing.T) {
	raw := []byte(`{"serverContent":{"interrupted":true,"turnComplete":true}}`)

	evs, err := decodeServerMessage(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventInterrupted {
		t.Fatalf("expected interrupted first, got %q", evs[0].Type)
	}
	if evs[1].Type != EventTurnComplete {
		t.Fatalf("expected turnComplete second, got %q", evs[1].Type)
	}
}

func TestDecodeServerMessageToolCall(t *testing.T) {
	raw := []byte(`{"toolCall":{"functionCalls":[{"id":"call-1","name":"lookup_order","args":{"order_id":"A42"}},{"id":"call-2","name":"send_sms","args":{}}]}}`)

	evs, err := decodeServerMessage(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != EventToolCall {
		t.Fatalf("expected one toolCall event, got %+v", evs)
	}
	invs := evs[0].Invocations
	if len(invs) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invs))
	}
	if invs[0].ID != "call-1" || invs[0].Name != "lookup_order" {
		t.Fatalf("unexpected first invocation: %+v", invs[0])
	}
	var args map[string]string
	if err := json.Unmarshal(invs[0].Args, &args); err != nil {
		t.Fatalf("args unmarshal: %v", err)
	}
	if args["order_id"] != "A42" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestDecodeServerMessageGoAway(t *testing.T) {
	evs, err := decodeServerMessage([]byte(`{"goAway":{}}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != EventGoAway || !evs[0].Retryable {
		t.Fatalf("expected retryable goAway, got %+v", evs)
	}
}

func TestDecodeServerMessageSetupAckIsSilent(t *testing.T) {
	evs, err := decodeServerMessage([]byte(`{"setupComplete":{}}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected no events for setup ack, got %+v", evs)
	}
}

func TestDecodeServerMessageMalformed(t *testing.T) {
	if _, err := decodeServerMessage([]byte(`{not json`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

// liveStub stands in for the engine endpoint: it rejects the first
// rejectFirst handshakes with 503 and then serves a session that
// acknowledges setup.
func liveStub(t *testing.T, rejectFirst int) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	attempts := 0
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= rejectFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return attempts
	}
}

func TestOpenRetriesTransientHandshakeFailures(t *testing.T) {
	srv, attempts := liveStub(t, 2)
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{
		APIKey:    "test-key",
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, events, err := p.Open(ctx, bot.RuntimeConfig{})
	if err != nil {
		t.Fatalf("open after transient failures: %v", err)
	}
	defer sess.Close()
	if events == nil {
		t.Fatalf("no event channel returned")
	}
	if got := attempts(); got != 3 {
		t.Fatalf("handshake attempts = %d, want 3", got)
	}
}

func TestOpenFailsFastOnClientError(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{
		APIKey:    "bad-key",
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := p.Open(ctx, bot.RuntimeConfig{}); err == nil {
		t.Fatalf("expected open to fail on 403")
	}
	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 1 {
		t.Fatalf("handshake attempts = %d, want 1 for a non-retryable status", got)
	}
}

func TestEmitDeliversWhileOpen(t *testing.T) {
	s := &geminiSession{events: make(chan Event, 1), done: make(chan struct{})}
	if !s.emit(Event{Type: EventTurnComplete}) {
		t.Fatalf("emit failed on an open session")
	}
	if ev := <-s.events; ev.Type != EventTurnComplete {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEmitUnblocksAfterClose(t *testing.T) {
	// Unbuffered channel with no consumer: without the done guard this
	// send would block forever.
	s := &geminiSession{events: make(chan Event), done: make(chan struct{})}
	close(s.done)

	delivered := make(chan bool, 1)
	go func() { delivered <- s.emit(Event{Type: EventAudio}) }()

	select {
	case ok := <-delivered:
		if ok {
			t.Fatalf("emit reported delivery on a closed session")
		}
	case <-time.After(time.Second):
		t.Fatalf("emit blocked on a closed session")
	}
}

func TestBuildSetup(t *testing.T) {
	cfg := bot.RuntimeConfig{
		SystemInstruction: "You are a receptionist.",
		Tools: []tools.Declaration{
			{Name: "book_slot", Description: "Book an appointment", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}

	msg := buildSetup("models/test-model", cfg)
	if msg.Setup.Model != "models/test-model" {
		t.Fatalf("unexpected model: %q", msg.Setup.Model)
	}
	if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
		t.Fatalf("expected default voice Puck, got %q", got)
	}
	if msg.Setup.GenerationConfig.ResponseModalities != "audio" {
		t.Fatalf("unexpected modalities: %q", msg.Setup.GenerationConfig.ResponseModalities)
	}
	if msg.Setup.SystemInstruction == nil || msg.Setup.SystemInstruction.Parts[0].Text != "You are a receptionist." {
		t.Fatalf("system instruction not carried: %+v", msg.Setup.SystemInstruction)
	}
	if len(msg.Setup.Tools) != 1 || len(msg.Setup.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools not mapped: %+v", msg.Setup.Tools)
	}
	if msg.Setup.Tools[0].FunctionDeclarations[0].Name != "book_slot" {
		t.Fatalf("unexpected declaration: %+v", msg.Setup.Tools[0].FunctionDeclarations[0])
	}
}

func TestBuildSetupVoiceOverride(t *testing.T) {
	msg := buildSetup("m", bot.RuntimeConfig{Voice: "Kore"})
	if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Kore" {
		t.Fatalf("expected Kore, got %q", got)
	}
	if msg.Setup.SystemInstruction != nil {
		t.Fatalf("expected no system instruction")
	}
}
