package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/memoria/internal/memorial"
	"github.com/MrWong99/memoria/pkg/provider/llm"
)

const (
	defaultIdleTimeout = 30 * time.Minute
	defaultMaxSessions = 1000
)

var (
	// ErrNoSession is returned by [Manager.Get] for unknown or expired chats.
	ErrNoSession = errors.New("chat: no such session")

	// ErrNotCallable is returned when opening a chat with a memorial that is
	// still processing.
	ErrNotCallable = errors.New("chat: memorial is not available yet")

	// ErrTooManySessions is returned when the open chat limit is reached.
	ErrTooManySessions = errors.New("chat: too many open sessions")
)

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// IdleTimeout closes chats without activity for this long. Defaults to
	// 30 minutes.
	IdleTimeout time.Duration

	// MaxSessions bounds the open chats. Defaults to 1000.
	MaxSessions int

	Logger *slog.Logger
}

// Manager owns the open chat sessions of a server.
// All methods are safe for concurrent use.
type Manager struct {
	provider llm.Provider
	store    memorial.Store
	cfg      ManagerConfig
	opts     []Option
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager that opens chats on provider for memorials in
// store. opts are applied to every session it creates.
func NewManager(provider llm.Provider, store memorial.Store, cfg ManagerConfig, opts ...Option) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		provider: provider,
		store:    store,
		cfg:      cfg,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open starts a chat with the memorial identified by ref (an ID or a name).
func (m *Manager) Open(ctx context.Context, ref string) (*Session, error) {
	mem, err := memorial.Find(ctx, m.store, ref)
	if err != nil {
		return nil, err
	}
	if !mem.Callable() {
		return nil, fmt.Errorf("%w: %s", ErrNotCallable, mem.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}
	opts := append([]Option{WithLogger(m.cfg.Logger)}, m.opts...)
	opts = append(opts, func(s *Session) { s.now = m.now })
	s := New(m.provider, *mem, opts...)
	m.sessions[s.ID()] = s
	m.cfg.Logger.Info("chat opened", "chat_id", s.ID(), "memorial", mem.ID)
	return s, nil
}

// Get returns an open chat.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSession, id)
	}
	return s, nil
}

// Close ends one chat. Unknown IDs are ignored.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len returns the number of open chats.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes chats idle for longer than the idle timeout. Chats with a reply
// in flight are kept. It returns the number closed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if !s.Busy() && s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
		m.cfg.Logger.Debug("chat expired", "chat_id", s.ID())
	}
	return len(expired)
}

// Run sweeps idle chats until ctx is done, then closes every chat.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(max(m.cfg.IdleTimeout/4, time.Second))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case <-t.C:
			m.Sweep()
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
