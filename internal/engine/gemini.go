package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceomni/linebridge/internal/audio"
	"github.com/voiceomni/linebridge/internal/bot"
	"github.com/voiceomni/linebridge/internal/reliability"
	"github.com/voiceomni/linebridge/internal/tools"
)

const (
	bidiPath          = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultVoice      = "Puck"
	defaultOutputRate = 24000

	dialAttempts    = 3
	dialBackoffBase = 200 * time.Millisecond
	dialBackoffCap  = 2 * time.Second
)

type GeminiConfig struct {
	APIKey    string
	WSBaseURL string
	Model     string
}

// GeminiProvider opens Live API sessions over websocket.
type GeminiProvider struct {
	cfg GeminiConfig
}

func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://generativelanguage.googleapis.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	}
	return &GeminiProvider{cfg: cfg}
}

// Open dials the Live endpoint, sends the setup message built from the
// bot's configuration and blocks until the server acknowledges with
// setupComplete. Cancellation and deadline come from ctx. Transient
// handshake rejections are retried with backoff inside the same ctx
// budget; auth and client errors fail the first attempt.
func (p *GeminiProvider) Open(ctx context.Context, cfg bot.RuntimeConfig) (Session, <-chan Event, error) {
	u := strings.TrimRight(p.cfg.WSBaseURL, "/") + bidiPath + "?key=" + p.cfg.APIKey

	conn, err := p.dial(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	if err := conn.WriteJSON(buildSetup(p.cfg.Model, cfg)); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("engine setup write: %w", err)
	}

	// The first server message must acknowledge the setup.
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("engine setup response: %w", err)
	}
	var ack serverMessage
	if err := json.Unmarshal(raw, &ack); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("engine setup parse: %w", err)
	}
	if ack.SetupComplete == nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("engine setup rejected: %s", string(raw))
	}

	// Steady-state reads and writes are unbounded; the session ends by
	// either side closing.
	_ = conn.SetReadDeadline(zeroTime)
	_ = conn.SetWriteDeadline(zeroTime)

	s := &geminiSession{
		conn:   conn,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, s.events, nil
}

func (p *GeminiProvider) dial(ctx context.Context, u string) (*websocket.Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
		if err == nil {
			return conn, nil
		}
		retryable := resp != nil && reliability.IsRetryableHTTPStatus(resp.StatusCode)
		if !retryable || attempt >= dialAttempts-1 {
			if resp != nil {
				return nil, fmt.Errorf("dial engine websocket: %w (status %d)", err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial engine websocket: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial engine websocket: %w", ctx.Err())
		case <-time.After(reliability.ExponentialBackoff(attempt, dialBackoffBase, dialBackoffCap)):
		}
	}
}

type geminiSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
	done      chan struct{}
}

func (s *geminiSession) SendAudio(_ context.Context, f audio.Frame) error {
	msg := realtimeInputMessage{}
	msg.RealtimeInput.MediaChunks = []blobPayload{{
		MimeType: "audio/pcm;rate=" + strconv.Itoa(f.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(f.Payload),
	}}
	return s.writeJSON(msg)
}

func (s *geminiSession) SendText(_ context.Context, text string) error {
	msg := clientContentMessage{}
	msg.ClientContent.Turns = []turnPayload{{
		Role:  "user",
		Parts: []partPayload{{Text: text}},
	}}
	msg.ClientContent.TurnComplete = true
	return s.writeJSON(msg)
}

func (s *geminiSession) SendToolResponse(_ context.Context, results []tools.Result) error {
	msg := toolResponseMessage{}
	msg.ToolResponse.FunctionResponses = make([]functionResponse, 0, len(results))
	for _, r := range results {
		msg.ToolResponse.FunctionResponses = append(msg.ToolResponse.FunctionResponses, functionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Response},
		})
	}
	return s.writeJSON(msg)
}

// Close shuts the connection; it is safe to call on an already-closed
// session. The event channel is closed by the read loop on its way out.
func (s *geminiSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *geminiSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *geminiSession) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
				s.emit(Event{
					Type:      EventError,
					Code:      strconv.Itoa(closeErr.Code),
					Detail:    closeErr.Text,
					Retryable: reliability.IsRetryableEngineClose(closeErr.Code),
				})
			}
			return
		}
		evs, err := decodeServerMessage(raw)
		if err != nil {
			// A single malformed engine message is dropped, not fatal.
			continue
		}
		for _, ev := range evs {
			if !s.emit(ev) {
				return
			}
		}
	}
}

// emit delivers one event unless the session is closed. The consumer may
// stop draining after it closes the session; blocking forever here would
// strand the read loop.
func (s *geminiSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// decodeServerMessage translates one wire message into zero or more events.
func decodeServerMessage(raw []byte) ([]Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("parse engine message: %w", err)
	}

	var evs []Event

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		invs := make([]tools.Invocation, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			invs = append(invs, tools.Invocation{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		evs = append(evs, Event{Type: EventToolCall, Invocations: invs})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			evs = append(evs, Event{Type: EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "audio/pcm") {
					continue
				}
				evs = append(evs, Event{
					Type:        EventAudio,
					AudioBase64: part.InlineData.Data,
					SampleRate:  pcmRate(part.InlineData.MimeType),
				})
			}
		}
		if sc.TurnComplete {
			evs = append(evs, Event{Type: EventTurnComplete})
		}
	}

	if msg.GoAway != nil {
		evs = append(evs, Event{Type: EventGoAway, Retryable: true})
	}

	return evs, nil
}

func pcmRate(mimeType string) int {
	if i := strings.Index(mimeType, ";rate="); i >= 0 {
		if rate, err := strconv.Atoi(mimeType[i+len(";rate="):]); err == nil && rate > 0 {
			return rate
		}
	}
	return defaultOutputRate
}

func buildSetup(model string, cfg bot.RuntimeConfig) setupMessage {
	voice := strings.TrimSpace(cfg.Voice)
	if voice == "" {
		voice = defaultVoice
	}

	var msg setupMessage
	msg.Setup.Model = model
	msg.Setup.GenerationConfig.ResponseModalities = "audio"
	msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = voice
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		msg.Setup.SystemInstruction = &contentPayload{Parts: []partPayload{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(cfg.Tools))
		for _, d := range cfg.Tools {
			decls = append(decls, functionDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
		msg.Setup.Tools = []toolsPayload{{FunctionDeclarations: decls}}
	}
	return msg
}
