// Package server exposes the memorial catalog, text chats and live calls over
// HTTP.
//
// Routes:
//
//	GET    /healthz, /readyz, /metrics
//	GET    /api/memorials
//	GET    /api/memorials/{id}             id or fuzzy name
//	POST   /api/memorials/{id}/chats       open a text chat
//	GET    /api/memorials/{id}/call        websocket call relay
//	GET    /api/chats/{chatID}             transcript
//	DELETE /api/chats/{chatID}
//	POST   /api/chats/{chatID}/messages    server-sent reply deltas
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/memoria/internal/chat"
	"github.com/MrWong99/memoria/internal/config"
	"github.com/MrWong99/memoria/internal/health"
	"github.com/MrWong99/memoria/internal/memorial"
	"github.com/MrWong99/memoria/internal/observe"
	"github.com/MrWong99/memoria/internal/voice"
	"github.com/MrWong99/memoria/pkg/provider/live"
)

// Config holds the dependencies of a [Server]. Catalog is required; Chats and
// Live may be nil, which disables the respective routes with 503.
type Config struct {
	Catalog memorial.Store
	Chats   *chat.Manager

	Live     live.Provider
	LiveName string

	// Call tunes the relay pipeline. Zero values use the pipeline defaults.
	Call config.CallConfig

	// AllowedOrigins are host patterns (path.Match syntax) allowed to open
	// calls and receive CORS headers. Empty allows same-origin only.
	AllowedOrigins []string

	Health  *health.Handler
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP front end. Create it with [New].
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	mu    sync.Mutex
	calls map[string]*voice.Session
}

// New creates a server from cfg.
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		calls:   make(map[string]*voice.Session),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.cfg.LiveName == "" {
		s.cfg.LiveName = "live"
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", observe.MetricsHandler())

	mux.HandleFunc("GET /api/memorials", s.handleListMemorials)
	mux.HandleFunc("GET /api/memorials/{id}", s.handleGetMemorial)
	mux.HandleFunc("POST /api/memorials/{id}/chats", s.handleOpenChat)
	mux.HandleFunc("GET /api/memorials/{id}/call", s.handleCall)

	mux.HandleFunc("GET /api/chats/{chatID}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{chatID}", s.handleCloseChat)
	mux.HandleFunc("POST /api/chats/{chatID}/messages", s.handleSendMessage)

	return observe.Middleware(s.metrics)(cors(s.cfg.AllowedOrigins, mux))
}

// ActiveCalls returns the number of calls currently relayed.
func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// CloseCalls hangs up every relayed call and waits for their teardown.
// http.Server.Shutdown does not track hijacked websocket connections, so this
// must be called during shutdown.
func (s *Server) CloseCalls() {
	s.mu.Lock()
	sessions := make([]*voice.Session, 0, len(s.calls))
	for _, sess := range s.calls {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}
	for _, sess := range sessions {
		<-sess.Done()
	}
}

func (s *Server) trackCall(sess *voice.Session) func() {
	s.mu.Lock()
	s.calls[sess.ID()] = sess
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.calls, sess.ID())
		s.mu.Unlock()
	}
}

// errorBody is the JSON envelope of every non-2xx API response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
