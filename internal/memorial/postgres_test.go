package memorial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows over a slice of column values.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return scanInto(r.data[r.idx-1], dest) }

func scanInto(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements DB.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

var fixedTime = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func row(id, name, status string) []any {
	return []any{id, name, "Relation", "1900 - 2000", "a.png", "c.png", status, "2d ago",
		"You are " + name + ".", "", fixedTime, fixedTime}
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS memorials") {
		t.Errorf("Migrate executed %q", gotSQL)
	}

	db.execFunc = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("connection refused")
	}
	if err := NewPostgresStore(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "memorial: migrate") {
		t.Errorf("Migrate err = %v", err)
	}
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			if args[0] != "3" {
				t.Errorf("Get id arg = %v, want 3", args[0])
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				return scanInto(row("3", "DouDou (Pet)", "simulation"), dest)
			}}
		}}
		m, err := NewPostgresStore(db).Get(context.Background(), "3")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if m.Name != "DouDou (Pet)" || m.Status != StatusSimulation || !m.CreatedAt.Equal(fixedTime) {
			t.Errorf("Get = %+v", m)
		}
		if m.Voice() != DefaultVoice {
			t.Errorf("Voice() = %q, want default", m.Voice())
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		_, err := NewPostgresStore(&mockDB{}).Get(context.Background(), "9")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get err = %v, want ErrNotFound", err)
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return errors.New("boom") }}
		}}
		_, err := NewPostgresStore(db).Get(context.Background(), "1")
		if err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Get err = %v, want wrapped db error", err)
		}
	})
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	t.Run("sorted", func(t *testing.T) {
		t.Parallel()
		rows := &mockRows{data: [][]any{
			row("10", "Ten", "active"),
			row("2", "Two", "active"),
			row("1", "One", "processing"),
		}}
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return rows, nil }}
		list, err := NewPostgresStore(db).List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 3 || list[0].ID != "1" || list[1].ID != "2" || list[2].ID != "10" {
			t.Errorf("List order = %+v", list)
		}
		if !rows.closed {
			t.Error("rows not closed")
		}
	})

	t.Run("rows error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{err: errors.New("interrupted")}, nil
		}}
		if _, err := NewPostgresStore(db).List(context.Background()); err == nil {
			t.Error("List = nil error, want rows error")
		}
	})

	t.Run("query error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return nil, errors.New("down")
		}}
		if _, err := NewPostgresStore(db).List(context.Background()); err == nil {
			t.Error("List = nil error, want query error")
		}
	})
}

func TestPostgresStore_Upsert(t *testing.T) {
	t.Parallel()

	t.Run("defaults and timestamps", func(t *testing.T) {
		t.Parallel()
		var gotArgs []any
		db := &mockDB{queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "ON CONFLICT (id) DO UPDATE") {
				t.Errorf("Upsert sql missing conflict clause: %s", sql)
			}
			gotArgs = args
			return &mockRow{scanFunc: func(dest ...any) error {
				*(dest[0].(*time.Time)) = fixedTime
				*(dest[1].(*time.Time)) = fixedTime
				return nil
			}}
		}}
		m := &Memorial{ID: "5", Name: "Mother", Context: "You are Mother."}
		if err := NewPostgresStore(db).Upsert(context.Background(), m); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if gotArgs[6] != "active" {
			t.Errorf("status arg = %v, want active", gotArgs[6])
		}
		if !m.UpdatedAt.Equal(fixedTime) || m.Status != StatusActive {
			t.Errorf("memorial after Upsert = %+v", m)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			t.Error("invalid memorial reached the database")
			return nil
		}}
		if err := NewPostgresStore(db).Upsert(context.Background(), &Memorial{}); err == nil {
			t.Error("Upsert(invalid) = nil")
		}
	})

	t.Run("constraint violation", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return &pgconn.PgError{Code: "23514"} }}
		}}
		err := NewPostgresStore(db).Upsert(context.Background(), &Memorial{ID: "1", Name: "A", Context: "x"})
		if err == nil || !strings.Contains(err.Error(), "rejected by database") {
			t.Errorf("Upsert err = %v", err)
		}
	})
}

func TestPostgresStore_DeleteAndSeed(t *testing.T) {
	t.Parallel()

	var statements []string
	var seededIDs []any
	db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		statements = append(statements, sql)
		if strings.Contains(sql, "DO NOTHING") {
			seededIDs = append(seededIDs, args[0])
		}
		return pgconn.CommandTag{}, nil
	}}
	s := NewPostgresStore(db)

	if err := s.Delete(context.Background(), "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !strings.Contains(statements[0], "DELETE FROM memorials") {
		t.Errorf("Delete sql = %q", statements[0])
	}

	seeds := append(Seeds(), Memorial{ID: "bad"})
	err := s.Seed(context.Background(), seeds)
	if err == nil {
		t.Error("Seed with an invalid entry = nil error")
	}
	if len(seededIDs) != 3 {
		t.Errorf("seeded %v, want the three valid entries", seededIDs)
	}
}
