package memorial

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the memorials table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS memorials (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    relation    TEXT NOT NULL DEFAULT '',
    years       TEXT NOT NULL DEFAULT '',
    avatar      TEXT NOT NULL DEFAULT '',
    cover       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'active',
    last_chat   TEXT NOT NULL DEFAULT '',
    context     TEXT NOT NULL DEFAULT '',
    voice_name  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_memorials_name ON memorials(lower(name));
`

const selectColumns = `id, name, relation, years, avatar, cover, status, last_chat,
	context, voice_name, created_at, updated_at`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on top of db. Call [PostgresStore.Migrate]
// before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes [Schema] against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("memorial: migrate: %w", err)
	}
	return nil
}

// Seed inserts every entry of list that does not already exist. Existing rows
// are left untouched so edits made in the database survive restarts.
func (s *PostgresStore) Seed(ctx context.Context, list []Memorial) error {
	var errs []error
	for i := range list {
		m := &list[i]
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		v := withDefaults(*m)
		const query = `
			INSERT INTO memorials (
				id, name, relation, years, avatar, cover, status, last_chat,
				context, voice_name
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO NOTHING`
		if _, err := s.db.Exec(ctx, query, insertArgs(&v)...); err != nil {
			errs = append(errs, fmt.Errorf("memorial: seed %q: %w", v.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Memorial, error) {
	query := `SELECT ` + selectColumns + ` FROM memorials WHERE id = $1`

	m, err := scanMemorial(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("memorial: get: %w", err)
	}
	return m, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Memorial, error) {
	query := `SELECT ` + selectColumns + ` FROM memorials`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memorial: list: %w", err)
	}
	defer rows.Close()

	var out []Memorial
	for rows.Next() {
		m, err := scanMemorial(rows)
		if err != nil {
			return nil, fmt.Errorf("memorial: list scan: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memorial: list rows: %w", err)
	}
	slices.SortFunc(out, func(a, b Memorial) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

// Upsert implements [Store].
func (s *PostgresStore) Upsert(ctx context.Context, m *Memorial) error {
	if err := m.Validate(); err != nil {
		return err
	}
	v := withDefaults(*m)

	const query = `
		INSERT INTO memorials (
			id, name, relation, years, avatar, cover, status, last_chat,
			context, voice_name
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			relation = EXCLUDED.relation,
			years = EXCLUDED.years,
			avatar = EXCLUDED.avatar,
			cover = EXCLUDED.cover,
			status = EXCLUDED.status,
			last_chat = EXCLUDED.last_chat,
			context = EXCLUDED.context,
			voice_name = EXCLUDED.voice_name,
			updated_at = now()
		RETURNING created_at, updated_at`

	if err := s.db.QueryRow(ctx, query, insertArgs(&v)...).Scan(&v.CreatedAt, &v.UpdatedAt); err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("memorial: upsert %q rejected by database: %w", v.ID, err)
		}
		return fmt.Errorf("memorial: upsert: %w", err)
	}
	*m = v
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM memorials WHERE id = $1`, id); err != nil {
		return fmt.Errorf("memorial: delete: %w", err)
	}
	return nil
}

func insertArgs(m *Memorial) []any {
	return []any{
		m.ID, m.Name, m.Relation, m.Years, m.Avatar, m.Cover, string(m.Status),
		m.LastChat, m.Context, m.VoiceName,
	}
}

// scanMemorial reads one row in [selectColumns] order.
func scanMemorial(row pgx.Row) (*Memorial, error) {
	var (
		m      Memorial
		status string
	)
	err := row.Scan(
		&m.ID, &m.Name, &m.Relation, &m.Years, &m.Avatar, &m.Cover, &status,
		&m.LastChat, &m.Context, &m.VoiceName, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = Status(status)
	return &m, nil
}

// isCheckViolation reports whether err is a PostgreSQL check or not-null
// violation (SQLSTATE class 23, excluding unique violations).
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23502" || pgErr.Code == "23514"
	}
	return false
}
