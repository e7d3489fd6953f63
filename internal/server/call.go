package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/memoria/internal/config"
	"github.com/MrWong99/memoria/internal/observe"
	"github.com/MrWong99/memoria/internal/voice"
	"github.com/MrWong99/memoria/pkg/audio"
	"github.com/MrWong99/memoria/pkg/audio/mixer"
	"github.com/MrWong99/memoria/pkg/audio/opus"
	"github.com/MrWong99/memoria/pkg/audio/stream"
	"github.com/MrWong99/memoria/pkg/audio/visualizer"
)

const (
	minCallRate = 8000
	maxCallRate = 48000

	// callReadLimit bounds one inbound websocket message.
	callReadLimit = 1 << 20

	// callOutboundQueue bounds audio and level messages waiting for the
	// websocket writer. They are dropped when it is full. Format and state
	// messages bypass it and are never dropped.
	callOutboundQueue = 256

	callWriteTimeout = 5 * time.Second

	defaultMicDepth = 32
)

// Client → server control message.
type clientMessage struct {
	Type string `json:"type"`
}

// Server → client messages.
type (
	formatMessage struct {
		Type       string `json:"type"`
		Codec      string `json:"codec"`
		SampleRate int    `json:"sampleRate"`
		Memorial   string `json:"memorial"`
	}
	stateMessage struct {
		Type  string `json:"type"`
		State string `json:"state"`
		Error string `json:"error,omitempty"`
	}
	levelMessage struct {
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	}
)

// handleCall relays a live voice call over a websocket.
//
// The client sends binary messages of little-endian float32 mono microphone
// samples at ?rate= (default 16000) and may send {"type":"hangup"} to end the
// call. The server first sends a "format" message describing the downlink,
// then "state" messages for every session state, "level" visualizer samples,
// and binary downlink audio: 16-bit little-endian PCM at 24 kHz or, with
// ?codec=opus, one Opus packet per message.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Live == nil {
		writeError(w, http.StatusServiceUnavailable, "live calls are not configured")
		return
	}
	m, ok := s.findMemorial(w, r)
	if !ok {
		return
	}
	if !m.Callable() {
		writeError(w, http.StatusConflict, "memorial is still processing")
		return
	}

	rate := audio.CaptureRate
	if v := r.URL.Query().Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minCallRate || n > maxCallRate {
			writeError(w, http.StatusBadRequest, "rate must be an integer between 8000 and 48000")
			return
		}
		rate = n
	}

	codec := s.cfg.Call.OutputCodec
	if v := r.URL.Query().Get("codec"); v != "" {
		codec = config.OutputCodec(v)
	}
	if codec == "" {
		codec = config.CodecPCM
	}
	var enc *opus.Encoder
	switch codec {
	case config.CodecPCM:
	case config.CodecOpus:
		var err error
		if enc, err = opus.NewEncoder(audio.PlaybackRate); err != nil {
			s.log.Error("create opus encoder", "err", err)
			writeError(w, http.StatusInternalServerError, "opus unavailable")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "codec must be pcm or opus")
		return
	}

	if caps := s.cfg.Live.Capabilities(); !caps.HasVoice(m.Voice()) {
		s.log.Warn("voice not advertised by live provider", "memorial", m.ID, "voice", m.Voice())
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.log.Debug("call websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(callReadLimit)

	ctx := r.Context()
	log := observe.LoggerFrom(ctx, s.log).With("memorial", m.ID)
	relay := newCallRelay(conn, log)

	var sampler *visualizer.Sampler
	hz := s.cfg.Call.VisualizerRate()
	if hz > 0 {
		sampler = visualizer.New()
	}
	mixOpts := []mixer.Option{mixer.WithSampleRate(audio.PlaybackRate)}
	if s.cfg.Call.FrameMS > 0 {
		mixOpts = append(mixOpts, mixer.WithFrameDuration(time.Duration(s.cfg.Call.FrameMS)*time.Millisecond))
	}
	speaker := mixer.New(relay.audioOutput(sampler, enc), mixOpts...)
	mic := stream.NewPipe(rate, max(s.cfg.Call.CaptureQueue, defaultMicDepth))

	opts := []voice.Option{
		voice.WithStateHandler(relay.state),
		voice.WithMetrics(s.metrics),
		voice.WithLogger(log),
		voice.WithProviderName(s.cfg.LiveName),
	}
	if sampler != nil {
		opts = append(opts, voice.WithVisualizer(sampler, hz, relay.level))
	}
	sess := voice.New(s.cfg.Live, mic, speaker, voice.Config{
		Voice:            m.Voice(),
		Instructions:     m.Context,
		ChunkSamples:     s.cfg.Call.ChunkSamples,
		CaptureQueue:     s.cfg.Call.CaptureQueue,
		MaxActiveSources: s.cfg.Call.MaxActiveSources,
	}, opts...)
	defer s.trackCall(sess)()

	relay.sendControl(formatMessage{Type: "format", Codec: string(codec), SampleRate: audio.PlaybackRate, Memorial: m.ID})

	var g errgroup.Group
	g.Go(func() error {
		relay.writeLoop(ctx)
		return nil
	})
	g.Go(func() error {
		relay.readLoop(ctx, sess, mic)
		return nil
	})

	log.Info("call started", "call_id", sess.ID(), "rate", rate, "codec", codec)
	if err := sess.Start(ctx); err != nil {
		log.Warn("call failed to start", "call_id", sess.ID(), "err", err)
	}
	werr := sess.Wait()

	relay.finish()
	<-relay.flushed

	status, reason := websocket.StatusNormalClosure, "call ended"
	if werr != nil {
		status, reason = websocket.StatusInternalError, "call failed"
	}
	_ = conn.Close(status, reason)
	_ = g.Wait()

	log.Info("call ended", "call_id", sess.ID(), "state", sess.State().String(), "dropped_messages", relay.droppedCount())
}

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

// callRelay serialises everything the call sends to the client through one
// writer goroutine. Producers never block; the render clock and the session
// state handler must not stall on a slow client.
//
// Audio and level messages share a bounded queue and are dropped when it is
// full. Control messages (format, state) are held separately and written
// before queued audio, so a slow client still learns how the call ended.
type callRelay struct {
	conn *websocket.Conn
	log  *slog.Logger

	out     chan outbound
	wake    chan struct{}
	flushed chan struct{}
	failed  bool // writer goroutine only

	mu      sync.Mutex
	control []outbound
	closed  bool
	dropped int
}

func newCallRelay(conn *websocket.Conn, log *slog.Logger) *callRelay {
	return &callRelay{
		conn:    conn,
		log:     log,
		out:     make(chan outbound, callOutboundQueue),
		wake:    make(chan struct{}, 1),
		flushed: make(chan struct{}),
	}
}

// sendControl queues a message that must reach the client.
func (c *callRelay) sendControl(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode call message", "err", err)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.control = append(c.control, outbound{typ: websocket.MessageText, data: b})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *callRelay) takeControl() []outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.control
	c.control = nil
	return msgs
}

func (c *callRelay) send(typ websocket.MessageType, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- outbound{typ: typ, data: data}:
	default:
		c.dropped++
	}
}

func (c *callRelay) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode call message", "err", err)
		return
	}
	c.send(websocket.MessageText, b)
}

func (c *callRelay) state(st voice.State, err error) {
	msg := stateMessage{Type: "state", State: st.String()}
	if err != nil {
		msg.Error = err.Error()
	}
	c.sendControl(msg)
}

func (c *callRelay) level(v float64) {
	c.sendJSON(levelMessage{Type: "level", Value: v})
}

// audioOutput returns the mixer output callback. Frames feed the visualizer
// and are sent as PCM or, with enc set, as Opus packets.
func (c *callRelay) audioOutput(sampler *visualizer.Sampler, enc *opus.Encoder) func([]float32) {
	return func(frame []float32) {
		if sampler != nil {
			sampler.Observe(frame)
		}
		if enc == nil {
			c.send(websocket.MessageBinary, audio.FloatToPCM16(frame))
			return
		}
		packets, err := enc.Encode(frame)
		if err != nil {
			c.log.Warn("opus encode failed", "err", err)
		}
		for _, p := range packets {
			c.send(websocket.MessageBinary, p)
		}
	}
}

// finish stops accepting messages; the writer drains what is queued.
func (c *callRelay) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *callRelay) droppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// writeLoop writes queued messages until finish was called and both queues
// are drained. Pending control messages always go out first.
func (c *callRelay) writeLoop(ctx context.Context) {
	defer close(c.flushed)
	out := c.out
	for {
		for _, msg := range c.takeControl() {
			c.write(ctx, msg)
		}
		if out == nil {
			return
		}
		select {
		case msg, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			c.write(ctx, msg)
		case <-c.wake:
		}
	}
}

// write sends one message. After the first failure everything else is
// discarded.
func (c *callRelay) write(ctx context.Context, msg outbound) {
	if c.failed {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, callWriteTimeout)
	err := c.conn.Write(wctx, msg.typ, msg.data)
	cancel()
	if err != nil {
		c.log.Debug("call websocket write failed", "err", err)
		c.failed = true
	}
}

// readLoop forwards microphone audio into mic until the client disconnects.
// A hangup message or a read error ends the session.
func (c *callRelay) readLoop(ctx context.Context, sess *voice.Session, mic *stream.Pipe) {
	defer mic.CloseWrite()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			_ = sess.Close()
			return
		}
		switch typ {
		case websocket.MessageBinary:
			samples, err := audio.F32LEToFloat(data)
			if err != nil {
				c.log.Debug("dropping malformed microphone message", "err", err)
				continue
			}
			if err := mic.Write(ctx, samples); err != nil {
				// Session already torn down; keep reading until the close
				// handshake so the client sees a clean close.
				continue
			}
		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.Debug("ignoring malformed control message", "err", err)
				continue
			}
			if msg.Type == "hangup" {
				c.log.Info("caller hung up")
				_ = sess.Close()
			}
		}
	}
}
