// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// The Realtime API speaks 24 kHz PCM16 in both directions, so uplink frames
// captured at 16 kHz are resampled before they are appended to the input
// buffer. Server-side voice activity detection drives turn taking; the
// start of user speech is surfaced as a barge-in interruption.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/memoria/pkg/audio"
	"github.com/MrWong99/memoria/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Channel = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// realtimeRate is the only PCM16 rate the Realtime API accepts.
	realtimeRate = 24000

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
// Uplink audio is accepted at the capture rate and resampled internally.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputRate:  audio.CaptureRate,
		OutputRate: realtimeRate,
		Voices:     []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint and configures the session.
// [live.EventOpen] follows once the server confirms the configuration.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Channel, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, url.QueryEscape(p.model))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(-1)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Modalities        []string       `json:"modalities"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type  string             `json:"type"`
	Delta string             `json:"delta,omitempty"`
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	closed bool
	opened bool

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSessionUpdate configures voice, instructions and audio formats.
func (s *session) sendSessionUpdate(cfg live.Config) error {
	return s.writeJSON(s.ctx, sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     &turnDetection{Type: "server_vad"},
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and translates them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.emit(live.Event{Type: live.EventClose})
			} else {
				s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("openai: read: %w", err)})
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed server event", "err", err)
			continue
		}
		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent returns false once a terminal event has been emitted.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "session.updated":
		s.mu.Lock()
		first := !s.opened
		s.opened = true
		s.mu.Unlock()
		if first {
			return s.emit(live.Event{Type: live.EventOpen})
		}
	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(live.Event{
			Type:  live.EventAudio,
			Frame: audio.TransportFrame{MIMEType: audio.PCMMIMEType(realtimeRate), Data: evt.Delta},
		})
	case "input_audio_buffer.speech_started":
		return s.emit(live.Event{Type: live.EventInterrupted})
	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("openai: %s", msg)})
		s.conn.Close(websocket.StatusNormalClosure, "")
		return false
	}
	return true
}

// emit delivers ev in order, giving up if the session is closed locally.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return ev.Type != live.EventClose && ev.Type != live.EventError
	case <-s.ctx.Done():
		return false
	}
}

// ── Channel methods ────────────────────────────────────────────────────────────

// Send resamples a 16 kHz uplink frame to 24 kHz and appends it to the
// server's input buffer.
func (s *session) Send(ctx context.Context, frame audio.TransportFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("openai: session closed")
	}
	s.mu.Unlock()

	pcm, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		return fmt.Errorf("openai: decode frame: %w", err)
	}
	pcm = audio.ResampleMono16(pcm, frame.Rate(audio.CaptureRate), realtimeRate)

	msg := appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// Events returns the ordered inbound event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
