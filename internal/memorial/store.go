package memorial

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned when no memorial matches an ID or reference.
var ErrNotFound = errors.New("memorial: not found")

// Store provides access to the memorial catalog.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the memorial with the given ID, or an error wrapping
	// [ErrNotFound].
	Get(ctx context.Context, id string) (*Memorial, error)

	// List returns every memorial ordered by ID.
	List(ctx context.Context) ([]Memorial, error)

	// Upsert creates or replaces a memorial. It is validated first.
	Upsert(ctx context.Context, m *Memorial) error

	// Delete removes a memorial. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-memory [Store].
type MemStore struct {
	mu    sync.RWMutex
	items map[string]Memorial
	now   func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore pre-populated with seed. Invalid seed entries
// are reported as a joined error; the valid ones are still stored.
func NewMemStore(seed ...Memorial) (*MemStore, error) {
	s := &MemStore{items: make(map[string]Memorial, len(seed)), now: time.Now}
	var errs []error
	for i := range seed {
		if err := s.Upsert(context.Background(), &seed[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return s, errors.Join(errs...)
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*Memorial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return &m, nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Memorial, error) {
	s.mu.RLock()
	out := make([]Memorial, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, m)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Memorial) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

// Upsert implements [Store]. CreatedAt is preserved across replacements.
func (s *MemStore) Upsert(_ context.Context, m *Memorial) error {
	if err := m.Validate(); err != nil {
		return err
	}
	v := withDefaults(*m)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.items[v.ID]; ok {
		v.CreatedAt = prev.CreatedAt
	} else {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	s.items[v.ID] = v
	*m = v
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

// Replace swaps the whole catalog for list. It is used when the configured
// catalog is hot-reloaded. On a validation error the catalog is unchanged.
func (s *MemStore) Replace(list []Memorial) error {
	next := make(map[string]Memorial, len(list))
	var errs []error
	now := s.now()
	for _, m := range list {
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := next[m.ID]; dup {
			errs = append(errs, fmt.Errorf("memorial: duplicate id %q", m.ID))
			continue
		}
		v := withDefaults(m)
		v.CreatedAt, v.UpdatedAt = now, now
		next[m.ID] = v
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	for id, v := range next {
		if prev, ok := s.items[id]; ok {
			v.CreatedAt = prev.CreatedAt
			next[id] = v
		}
	}
	s.items = next
	s.mu.Unlock()
	return nil
}

// compareIDs orders numeric IDs numerically ("2" < "10") and everything else
// lexically, numbers first.
func compareIDs(a, b string) int {
	na, aok := numeric(a)
	nb, bok := numeric(b)
	switch {
	case aok && bok:
		if c := cmp.Compare(na, nb); c != 0 {
			return c
		}
	case aok:
		return -1
	case bok:
		return 1
	}
	return cmp.Compare(a, b)
}

func numeric(s string) (int, bool) {
	if s == "" || len(s) > 9 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
