package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voiceomni/linebridge/internal/admission"
	"github.com/voiceomni/linebridge/internal/bot"
	"github.com/voiceomni/linebridge/internal/bridge"
	"github.com/voiceomni/linebridge/internal/config"
	"github.com/voiceomni/linebridge/internal/observability"
	"github.com/voiceomni/linebridge/internal/session"
	"github.com/voiceomni/linebridge/internal/telephony"
	"github.com/voiceomni/linebridge/internal/usage"
)

type Server struct {
	cfg      config.Config
	bridge   *bridge.Bridge
	bots     bot.Store
	limiter  admission.Limiter
	usage    usage.Store
	calls    *session.Registry
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, b *bridge.Bridge, bots bot.Store, limiter admission.Limiter, usageStore usage.Store, calls *session.Registry, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		bridge:  b,
		bots:    bots,
		limiter: limiter,
		usage:   usageStore,
		calls:   calls,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Carrier media streams are server-to-server and send no
				// Origin header; browser origins must match the host.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/webhook/{botID}", s.handleWebhook)
	r.Get("/webhook/{botID}", s.handleWebhook)
	r.Get("/media-stream/{botID}", s.handleMediaStream)

	r.Get("/v1/lines/{tenantID}", s.handleLines)
	r.Get("/v1/usage/{tenantID}", s.handleUsage)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.calls.ActiveCount(),
	})
}

// handleWebhook answers the carrier's incoming-call webhook with call
// control XML that redirects the call's audio into the media stream
// endpoint for the dialed bot.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if _, err := s.bots.RuntimeConfig(r.Context(), botID); err != nil {
		if errors.Is(err, bot.ErrNotFound) {
			respondError(w, http.StatusNotFound, "bot_not_found", "no bot configured for this number")
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	streamURL := "wss://" + host + "/media-stream/" + botID

	body, err := telephony.ConnectStreamResponse(s.cfg.ConnectAnnouncement, streamURL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleMediaStream upgrades the carrier's websocket and hands the call
// to the bridge. The handler owns the socket and its pump goroutines;
// the bridge owns the call.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if _, err := s.bots.RuntimeConfig(r.Context(), botID); err != nil {
		respondError(w, http.StatusNotFound, "bot_not_found", "no bot configured for this number")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.CallEvents.WithLabelValues("stream_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan telephony.StreamMessage, 256)
	outbound := make(chan []byte, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer cancel()
		if err := s.bridge.Run(ctx, botID, inbound, outbound); err != nil {
			log.Printf("httpapi: bridge for bot %s: %v", botID, err)
		}
	}()

	// When the bridge exits first (rejection, engine failure, expiry) the
	// read loop below is still blocked on the socket; closing it unblocks
	// the read and hangs up the telephony leg immediately.
	go func() {
		<-runDone
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := telephony.Decode(data)
		if err != nil {
			if errors.Is(err, telephony.ErrUnknownEvent) {
				s.metrics.DroppedMessages.WithLabelValues("unknown_event").Inc()
			} else {
				s.metrics.DroppedMessages.WithLabelValues("malformed").Inc()
			}
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- msg:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.CallEvents.WithLabelValues("stream_disconnected").Inc()
}

// handleLines reports a tenant's line usage against its limit.
func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	active, err := s.limiter.ActiveCount(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "limiter_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"active":    active,
		"limit":     s.limiter.Limit(tenantID),
		"calls":     s.calls.ActiveByTenant(tenantID),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	recs, err := s.usage.RecentCalls(r.Context(), tenantID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if recs == nil {
		recs = []usage.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"calls":     recs,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
