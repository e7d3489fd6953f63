package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/memoria/pkg/audio"
	"github.com/MrWong99/memoria/pkg/provider/live"
	"github.com/MrWong99/memoria/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. When the handler returns the
// connection is closed normally.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var setup map[string]any
	readJSON(t, conn, &setup)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// audioContent builds a serverContent message carrying one PCM part.
func audioContent(data string) map[string]any {
	return map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []any{
					map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": data}},
				},
			},
		},
	}
}

// nextEvent waits for one event from ch.
func nextEvent(t *testing.T, ch <-chan live.Event) (live.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return live.Event{}, false
	}
}

func connect(t *testing.T, srv *httptest.Server, cfg live.Config) live.Channel {
	t.Helper()
	ch, err := gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestCapabilities(t *testing.T) {
	t.Parallel()

	caps := gemini.New("k").Capabilities()
	if caps.InputRate != 16000 || caps.OutputRate != 24000 {
		t.Errorf("rates = %d/%d, want 16000/24000", caps.InputRate, caps.OutputRate)
	}
	for _, v := range []string{"Kore", "Fenrir", "Puck"} {
		if !caps.HasVoice(v) {
			t.Errorf("voice %q missing", v)
		}
	}
}

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	ch, err := p.Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		} `json:"setup"`
	}

	setupCh := make(chan setupMsg, 1)
	keyCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		setupCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, live.Config{Voice: "Fenrir", Instructions: "You are Zhang Jianguo."})

	if key := <-keyCh; key != "test-api-key" {
		t.Errorf("key = %q, want test-api-key", key)
	}
	msg := <-setupCh
	if msg.Setup.Model != "models/gemini-2.5-flash-native-audio-preview-09-2025" {
		t.Errorf("model = %q", msg.Setup.Model)
	}
	if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Errorf("responseModalities = %v, want [AUDIO]", got)
	}
	if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Fenrir" {
		t.Errorf("voiceName = %q, want Fenrir", got)
	}
	if parts := msg.Setup.SystemInstruction.Parts; len(parts) != 1 || parts[0].Text != "You are Zhang Jianguo." {
		t.Errorf("systemInstruction parts = %+v", parts)
	}
}

func TestEvents_OrderedLifecycle(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAA="}},
						map[string]any{"text": "ignored"},
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AQA="}},
					},
				},
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, audioContent("AgA="))
		// Returning closes the socket with StatusNormalClosure.
	})

	ch := connect(t, srv, live.Config{Voice: "Kore"})
	events := ch.Events()

	want := []struct {
		typ  live.EventType
		data string
	}{
		{live.EventOpen, ""},
		{live.EventAudio, "AAA="},
		{live.EventAudio, "AQA="},
		{live.EventInterrupted, ""},
		{live.EventAudio, "AgA="},
		{live.EventClose, ""},
	}
	for i, w := range want {
		ev, ok := nextEvent(t, events)
		if !ok {
			t.Fatalf("event %d: channel closed early", i)
		}
		if ev.Type != w.typ {
			t.Fatalf("event %d: type = %v, want %v", i, ev.Type, w.typ)
		}
		if ev.Frame.Data != w.data {
			t.Errorf("event %d: data = %q, want %q", i, ev.Frame.Data, w.data)
		}
	}
	if _, ok := nextEvent(t, events); ok {
		t.Error("events channel not closed after close event")
	}
}

func TestEvents_SkipsNonAudioInlineData(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": "iVBORw0K"}},
						map[string]any{"inlineData": map[string]any{"mimeType": "application/json", "data": "e30="}},
						map[string]any{"inlineData": map[string]any{"mimeType": "Audio/PCM;rate=24000", "data": "AQA="}},
					},
				},
			},
		})
	})

	events := connect(t, srv, live.Config{}).Events()

	want := []struct {
		typ  live.EventType
		data string
	}{
		{live.EventOpen, ""},
		{live.EventAudio, "AQA="},
		{live.EventClose, ""},
	}
	for i, w := range want {
		ev, ok := nextEvent(t, events)
		if !ok {
			t.Fatalf("event %d: channel closed early", i)
		}
		if ev.Type != w.typ || ev.Frame.Data != w.data {
			t.Fatalf("event %d = %v %q, want %v %q", i, ev.Type, ev.Frame.Data, w.typ, w.data)
		}
	}
}

func TestEvents_ServerErrorIsTerminal(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	events := connect(t, srv, live.Config{}).Events()
	if ev, _ := nextEvent(t, events); ev.Type != live.EventOpen {
		t.Fatalf("first event = %v, want open", ev.Type)
	}
	ev, _ := nextEvent(t, events)
	if ev.Type != live.EventError || ev.Err == nil || !strings.Contains(ev.Err.Error(), "quota exceeded") {
		t.Fatalf("event = %+v, want error mentioning quota", ev)
	}
	if _, ok := nextEvent(t, events); ok {
		t.Error("events channel not closed after error event")
	}
}

func TestEvents_AbnormalCloseIsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusInternalError, "boom")
	})

	events := connect(t, srv, live.Config{}).Events()
	if ev, _ := nextEvent(t, events); ev.Type != live.EventOpen {
		t.Fatalf("first event = %v, want open", ev.Type)
	}
	if ev, _ := nextEvent(t, events); ev.Type != live.EventError {
		t.Fatalf("event = %v, want error", ev.Type)
	}
}

func TestSend_EncodesRealtimeInput(t *testing.T) {
	t.Parallel()

	type chunkMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	got := make(chan chunkMsg, 2)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		for range 2 {
			var msg chunkMsg
			readJSON(t, conn, &msg)
			got <- msg
		}
	})

	ch := connect(t, srv, live.Config{})
	first := audio.EncodeChunk(audio.AudioChunk{Samples: []float32{0.5, -0.5}, SampleRate: 16000})
	second := audio.EncodeChunk(audio.AudioChunk{Samples: []float32{0.25}, SampleRate: 16000})
	for _, f := range []audio.TransportFrame{first, second} {
		if err := ch.Send(context.Background(), f); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for i, want := range []audio.TransportFrame{first, second} {
		select {
		case msg := <-got:
			chunks := msg.RealtimeInput.MediaChunks
			if len(chunks) != 1 || chunks[0].MIMEType != "audio/pcm;rate=16000" || chunks[0].Data != want.Data {
				t.Errorf("frame %d = %+v, want %+v", i, chunks, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestSend_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := connect(t, srv, live.Config{})
	_ = ch.Close()
	if err := ch.Send(context.Background(), audio.TransportFrame{}); err == nil {
		t.Error("Send after Close succeeded")
	}
}

func TestClose_IdempotentAndClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := connect(t, srv, live.Config{})
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return
			}
			if ev.Type == live.EventClose || ev.Type == live.EventError {
				t.Errorf("unexpected terminal event %v after local close", ev.Type)
			}
		case <-deadline:
			t.Fatal("events channel not closed after Close")
		}
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(ctx, live.Config{}); err == nil {
		t.Error("Connect with cancelled context succeeded")
	}
}
