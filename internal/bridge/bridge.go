// Package bridge runs one telephone call end to end: admission, the
// engine session, audio relay in both directions, tool dispatch and the
// usage record written at hangup.
package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceomni/linebridge/internal/admission"
	"github.com/voiceomni/linebridge/internal/audio"
	"github.com/voiceomni/linebridge/internal/bot"
	"github.com/voiceomni/linebridge/internal/engine"
	"github.com/voiceomni/linebridge/internal/observability"
	"github.com/voiceomni/linebridge/internal/playback"
	"github.com/voiceomni/linebridge/internal/reliability"
	"github.com/voiceomni/linebridge/internal/session"
	"github.com/voiceomni/linebridge/internal/telephony"
	"github.com/voiceomni/linebridge/internal/tools"
	"github.com/voiceomni/linebridge/internal/usage"
)

// startWait bounds how long a media stream may sit idle before its start
// event arrives.
const startWait = 10 * time.Second

// Usage records are billing data; a transient store hiccup at hangup
// gets a few retries before the record is given up on.
const (
	usageSaveAttempts    = 3
	usageSaveBackoffBase = 100 * time.Millisecond
	usageSaveBackoffCap  = time.Second
)

// Options carries the per-process collaborators a Bridge needs.
type Options struct {
	Bots       bot.Store
	Limiter    admission.Limiter
	Engine     engine.Provider
	Tools      *tools.Dispatcher
	Calls      *session.Registry
	Usage      usage.Store
	Metrics    *observability.Metrics
	EngineOpen time.Duration
	RecordDir  string
}

type Bridge struct {
	opts Options
}

func New(opts Options) *Bridge {
	if opts.EngineOpen <= 0 {
		opts.EngineOpen = 15 * time.Second
	}
	return &Bridge{opts: opts}
}

// Run drives one call. It consumes decoded carrier messages from inbound
// and produces encoded carrier messages on outbound. It returns when the
// call ends for any reason; the caller owns both channels and the
// underlying transport.
func (b *Bridge) Run(ctx context.Context, botID string, inbound <-chan telephony.StreamMessage, outbound chan<- []byte) error {
	o := b.opts

	cfg, err := o.Bots.RuntimeConfig(ctx, botID)
	if err != nil {
		return fmt.Errorf("resolve bot %s: %w", botID, err)
	}

	start, ok := b.awaitStart(ctx, inbound)
	if !ok {
		return fmt.Errorf("media stream for bot %s ended before start", botID)
	}
	streamSid := start.StreamSid
	var format telephony.MediaFormat
	if start.Start != nil {
		if streamSid == "" {
			streamSid = start.Start.StreamSid
		}
		format = start.Start.MediaFormat
	}
	phone := callerNumber(start.Start)

	callID := o.Calls.Create(botID, cfg.TenantID, phone)
	o.Calls.SetStream(callID, streamSid)
	o.Metrics.CallEvents.WithLabelValues("started").Inc()

	// The registry janitor cancels this context when the call outlives
	// the configured maximum duration.
	ctx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()
	o.Calls.SetCancel(callID, cancelCall)

	granted, err := o.Limiter.TryAcquire(ctx, cfg.TenantID)
	if err != nil {
		o.Calls.End(callID)
		return fmt.Errorf("admission check for tenant %s: %w", cfg.TenantID, err)
	}
	if !granted {
		o.Metrics.AdmissionDecisions.WithLabelValues("denied").Inc()
		o.Calls.SetState(callID, session.StateRejected)
		o.Calls.End(callID)
		log.Printf("bridge: call %s rejected, tenant %s at line limit %d", callID, cfg.TenantID, o.Limiter.Limit(cfg.TenantID))
		return nil
	}
	o.Metrics.AdmissionDecisions.WithLabelValues("granted").Inc()

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if err := o.Limiter.Release(context.Background(), cfg.TenantID); err != nil {
				log.Printf("bridge: release line for tenant %s: %v", cfg.TenantID, err)
			}
		})
	}
	defer release()

	openCtx, cancelOpen := context.WithTimeout(ctx, o.EngineOpen)
	sess, events, err := o.Engine.Open(openCtx, cfg)
	cancelOpen()
	if err != nil {
		o.Metrics.EngineErrors.WithLabelValues("open").Inc()
		o.Calls.End(callID)
		return fmt.Errorf("open engine session: %w", err)
	}
	defer sess.Close()

	o.Calls.SetState(callID, session.StateOpen)
	o.Metrics.ActiveCalls.Inc()
	defer o.Metrics.ActiveCalls.Dec()

	call := &activeCall{
		bridge:    b,
		callID:    callID,
		streamSid: streamSid,
		format:    format,
		sess:      sess,
		outbound:  outbound,
		openedAt:  time.Now(),
	}
	call.scheduler = playback.NewScheduler(call.sendToCaller)
	defer call.scheduler.Close()
	defer call.finish()

	if cfg.Greeting != "" {
		if err := sess.SendText(ctx, cfg.Greeting); err != nil {
			log.Printf("bridge: call %s greeting: %v", callID, err)
		}
	}

	return call.loop(ctx, inbound, events)
}

// awaitStart drains the stream until the start event shows up. Connected
// and mark events before it are expected and ignored.
func (b *Bridge) awaitStart(ctx context.Context, inbound <-chan telephony.StreamMessage) (telephony.StreamMessage, bool) {
	deadline := time.NewTimer(startWait)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return telephony.StreamMessage{}, false
		case <-deadline.C:
			return telephony.StreamMessage{}, false
		case msg, ok := <-inbound:
			if !ok {
				return telephony.StreamMessage{}, false
			}
			switch msg.Event {
			case telephony.EventStart:
				return msg, true
			case telephony.EventStop:
				return telephony.StreamMessage{}, false
			default:
				// connected, mark: keep waiting.
			}
		}
	}
}

type activeCall struct {
	bridge    *Bridge
	callID    uuid.UUID
	streamSid string
	format    telephony.MediaFormat
	sess      engine.Session
	scheduler *playback.Scheduler
	outbound  chan<- []byte
	openedAt  time.Time

	firstAudio   bool
	inSeq        int
	recording    []byte
	recordRate   int
	toolWG       sync.WaitGroup
	finishReason string
}

func (c *activeCall) loop(ctx context.Context, inbound <-chan telephony.StreamMessage, events <-chan engine.Event) error {
	for {
		select {
		case <-ctx.Done():
			c.finishReason = "transport_closed"
			return nil

		case msg, ok := <-inbound:
			if !ok {
				c.finishReason = "transport_closed"
				return nil
			}
			if done := c.handleCarrier(ctx, msg); done {
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				c.finishReason = "engine_closed"
				return nil
			}
			if err := c.handleEngine(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (c *activeCall) handleCarrier(ctx context.Context, msg telephony.StreamMessage) (done bool) {
	o := c.bridge.opts
	switch msg.Event {
	case telephony.EventMedia:
		frame, err := msg.Media.Frame(c.format, c.inSeq, time.Since(c.openedAt).Milliseconds())
		if err != nil {
			o.Metrics.DroppedMessages.WithLabelValues("malformed").Inc()
			return false
		}
		c.inSeq++
		if err := c.sess.SendAudio(ctx, frame); err != nil {
			log.Printf("bridge: call %s forward audio: %v", c.callID, err)
			c.finishReason = "engine_write_failed"
			return true
		}
		o.Metrics.FramesRelayed.WithLabelValues("caller_to_engine").Inc()
		o.Calls.Touch(c.callID)
		return false

	case telephony.EventStop:
		c.finishReason = "caller_hangup"
		return true

	case telephony.EventStart, telephony.EventConnected, telephony.EventMark:
		return false

	default:
		o.Metrics.DroppedMessages.WithLabelValues("unknown_event").Inc()
		return false
	}
}

func (c *activeCall) handleEngine(ctx context.Context, ev engine.Event) error {
	o := c.bridge.opts
	switch ev.Type {
	case engine.EventAudio:
		pcm, err := base64.StdEncoding.DecodeString(ev.AudioBase64)
		if err != nil {
			o.Metrics.DroppedMessages.WithLabelValues("malformed").Inc()
			return nil
		}
		if !c.firstAudio {
			c.firstAudio = true
			o.Metrics.ObserveFirstAudioLatency(time.Since(c.openedAt))
		}
		if o.RecordDir != "" {
			c.recording = append(c.recording, pcm...)
			c.recordRate = ev.SampleRate
		}
		c.scheduler.Enqueue(audio.Frame{
			Encoding:   audio.EncodingPCM16,
			SampleRate: ev.SampleRate,
			Payload:    pcm,
		})
		return nil

	case engine.EventInterrupted:
		c.scheduler.Flush()
		if msg, err := telephony.EncodeClear(c.streamSid); err == nil {
			c.send(msg)
		}
		o.Metrics.CallEvents.WithLabelValues("barge_in").Inc()
		return nil

	case engine.EventToolCall:
		c.toolWG.Add(1)
		go func(invs []tools.Invocation) {
			defer c.toolWG.Done()
			results := o.Tools.DispatchBatch(ctx, invs)
			for _, r := range results {
				outcome := "success"
				if status, _ := r.Response["status"].(string); status == "error" {
					outcome = "error"
				}
				o.Metrics.ToolDispatches.WithLabelValues(outcome).Inc()
			}
			if err := c.sess.SendToolResponse(ctx, results); err != nil {
				log.Printf("bridge: call %s tool response: %v", c.callID, err)
			}
		}(ev.Invocations)
		return nil

	case engine.EventTurnComplete:
		o.Calls.Touch(c.callID)
		return nil

	case engine.EventGoAway:
		log.Printf("bridge: call %s engine signalled shutdown", c.callID)
		return nil

	case engine.EventError:
		o.Metrics.EngineErrors.WithLabelValues(ev.Code).Inc()
		c.finishReason = "engine_error"
		if ev.Retryable {
			// Transient engine-side close: the call still ends, but the
			// caller redialing is expected to succeed.
			c.finishReason = "engine_error_transient"
		}
		return fmt.Errorf("engine error %s: %s", ev.Code, ev.Detail)

	default:
		return nil
	}
}

// sendToCaller is the scheduler sink. It runs on timer goroutines, so it
// must never block: a full outbound queue drops the frame.
func (c *activeCall) sendToCaller(f audio.Frame) {
	msg, err := telephony.EncodeMedia(c.streamSid, f)
	if err != nil {
		return
	}
	if c.send(msg) {
		c.bridge.opts.Metrics.FramesRelayed.WithLabelValues("engine_to_caller").Inc()
	}
}

func (c *activeCall) send(msg []byte) bool {
	select {
	case c.outbound <- msg:
		return true
	default:
		c.bridge.opts.Metrics.DroppedMessages.WithLabelValues("queue_full").Inc()
		return false
	}
}

// finish releases everything tied to the call and writes its usage record.
func (c *activeCall) finish() {
	o := c.bridge.opts

	c.toolWG.Wait()

	final, ok := o.Calls.End(c.callID)
	if !ok {
		return
	}
	duration := time.Since(final.StartedAt)
	o.Metrics.ObserveCallDuration(duration)
	reason := c.finishReason
	if reason == "" {
		reason = "ended"
	}
	o.Metrics.CallEvents.WithLabelValues(reason).Inc()
	log.Printf("bridge: call %s ended after %s (%s)", c.callID, duration.Round(time.Second), reason)

	if o.Usage != nil {
		rec := usage.Record{
			TenantID:    final.TenantID,
			BotID:       final.BotID,
			CallID:      final.ID.String(),
			PhoneNumber: final.PhoneNumber,
			Direction:   "inbound",
			Seconds:     int(duration.Seconds()),
			StartedAt:   final.StartedAt,
		}
		var saveErr error
		for attempt := 0; attempt < usageSaveAttempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			saveErr = o.Usage.SaveCall(ctx, rec)
			cancel()
			if saveErr == nil {
				break
			}
			if attempt < usageSaveAttempts-1 {
				time.Sleep(reliability.ExponentialBackoff(attempt, usageSaveBackoffBase, usageSaveBackoffCap))
			}
		}
		if saveErr != nil {
			log.Printf("bridge: call %s usage record lost after %d attempts: %v", c.callID, usageSaveAttempts, saveErr)
		}
	}

	if o.RecordDir != "" && len(c.recording) > 0 {
		path := filepath.Join(o.RecordDir, final.ID.String()+".wav")
		if err := audio.WriteWAVFile(path, c.recording, c.recordRate); err != nil {
			log.Printf("bridge: call %s write recording: %v", c.callID, err)
		}
	}
}

func callerNumber(start *telephony.StartPayload) string {
	if start == nil {
		return ""
	}
	for _, key := range []string{"from", "From", "caller", "Caller"} {
		if v, ok := start.CustomParameters[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
