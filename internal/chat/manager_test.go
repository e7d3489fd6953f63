package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/memoria/internal/memorial"
	"github.com/MrWong99/memoria/pkg/provider/llm"
	"github.com/MrWong99/memoria/pkg/provider/llm/mock"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *testClock) {
	t.Helper()
	store, err := memorial.NewMemStore(append(memorial.Seeds(),
		memorial.Memorial{ID: "4", Name: "Uncle Wei", Status: memorial.StatusProcessing})...)
	if err != nil {
		t.Fatal(err)
	}
	met, _ := testMetrics(t)
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "hello"}}}
	m := NewManager(p, store, cfg, WithMetrics(met))
	clock := &testClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	m.now = clock.now
	return m, clock
}

func TestManager_Open(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, err := m.Open(ctx, "2")
	if err != nil {
		t.Fatalf("Open(2): %v", err)
	}
	if s.Memorial().Name != "Father (Zhang Jianguo)" {
		t.Errorf("memorial = %q", s.Memorial().Name)
	}
	got, err := m.Get(s.ID())
	if err != nil || got != s {
		t.Errorf("Get(%q) = %v, %v", s.ID(), got, err)
	}

	byName, err := m.Open(ctx, "doudou")
	if err != nil || byName.Memorial().ID != "3" {
		t.Errorf("Open(doudou) = %v, %v", byName, err)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}

	if _, err := m.Open(ctx, "4"); !errors.Is(err, ErrNotCallable) {
		t.Errorf("Open(processing) err = %v, want ErrNotCallable", err)
	}
	if _, err := m.Open(ctx, "nobody at all"); !errors.Is(err, memorial.ErrNotFound) {
		t.Errorf("Open(unknown) err = %v, want memorial.ErrNotFound", err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get(missing) err = %v, want ErrNoSession", err)
	}
}

func TestManager_MaxSessions(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, ManagerConfig{MaxSessions: 1})
	if _, err := m.Open(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Open(context.Background(), "1"); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("err = %v, want ErrTooManySessions", err)
	}
}

func TestManager_CloseAndSweep(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, ManagerConfig{IdleTimeout: time.Minute})
	ctx := context.Background()

	a, _ := m.Open(ctx, "1")
	b, _ := m.Open(ctx, "2")

	m.Close(a.ID())
	m.Close(a.ID())
	if _, err := a.Send(ctx, "hi", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send on closed chat err = %v", err)
	}

	clock.advance(30 * time.Second)
	if n := m.Sweep(); n != 0 {
		t.Errorf("early Sweep closed %d", n)
	}

	if _, err := b.Send(ctx, "still here", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	clock.advance(45 * time.Second)
	if n := m.Sweep(); n != 0 {
		t.Errorf("Sweep after activity closed %d", n)
	}

	clock.advance(time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep closed %d, want 1", n)
	}
	if _, err := m.Get(b.ID()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get after expiry err = %v", err)
	}
}

func TestManager_RunClosesAllOnShutdown(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, ManagerConfig{})
	s, _ := m.Open(context.Background(), "1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if m.Len() != 0 {
		t.Errorf("Len after Run = %d", m.Len())
	}
	if _, err := s.Send(context.Background(), "hi", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after shutdown err = %v", err)
	}
}
