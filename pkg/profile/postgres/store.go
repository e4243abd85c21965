package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/celestial/pkg/profile"
)

// Compile-time interface check.
var _ profile.Store = (*Store)(nil)

// pgForeignKeyViolation is the SQLSTATE raised when a row references a
// missing profile.
const pgForeignKeyViolation = "23503"

// Store is a PostgreSQL implementation of [profile.Store] over a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies connectivity and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

const profileColumns = `id, full_name, email, chat_count, is_premium, created_at, updated_at`

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var p profile.Profile
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.UsageCount, &p.IsPremium, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile implements [profile.Store].
func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) (*profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	q := `
		INSERT INTO profiles (id, full_name, email, chat_count, is_premium)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + profileColumns

	out, err := scanProfile(s.pool.QueryRow(ctx, q, p.ID, p.Name, p.Email, p.UsageCount, p.IsPremium))
	if err != nil {
		return nil, fmt.Errorf("profile postgres: create profile: %w", err)
	}
	return out, nil
}

// GetProfile implements [profile.Store].
func (s *Store) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile postgres: get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile implements [profile.Store]. Nil fields of u map to NULL
// parameters and COALESCE keeps the stored value.
func (s *Store) UpdateProfile(ctx context.Context, id string, u profile.Update) (*profile.Profile, error) {
	q := `
		UPDATE profiles
		SET    full_name  = COALESCE($2::text, full_name),
		       chat_count = COALESCE($3::integer, chat_count),
		       is_premium = COALESCE($4::boolean, is_premium),
		       updated_at = now()
		WHERE  id = $1
		RETURNING ` + profileColumns

	p, err := scanProfile(s.pool.QueryRow(ctx, q, id, u.Name, u.UsageCount, u.IsPremium))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile postgres: update profile: %w", err)
	}
	return p, nil
}

// AppendConversationRecord implements [profile.Store].
func (s *Store) AppendConversationRecord(ctx context.Context, id string, rec profile.Record) (*profile.Record, error) {
	const q = `
		INSERT INTO chat_history (id, user_id, transcript, summary, language, timestamp)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()))
		RETURNING timestamp`

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.ProfileID = id
	var ts any
	if !rec.Timestamp.IsZero() {
		ts = rec.Timestamp
	}
	err := s.pool.QueryRow(ctx, q, rec.ID, id, rec.Transcript, rec.Summary, rec.Language, ts).Scan(&rec.Timestamp)
	if err != nil {
		return nil, mapFK(fmt.Errorf("profile postgres: append record: %w", err))
	}
	return &rec, nil
}

// ListConversationRecords implements [profile.Store].
func (s *Store) ListConversationRecords(ctx context.Context, id string, limit int) ([]profile.Record, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}

	q := `
		SELECT id, user_id, transcript, summary, language, timestamp
		FROM   chat_history
		WHERE  user_id = $1
		ORDER  BY timestamp DESC, id`
	args := []any{id}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("profile postgres: list records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (profile.Record, error) {
		var r profile.Record
		err := row.Scan(&r.ID, &r.ProfileID, &r.Transcript, &r.Summary, &r.Language, &r.Timestamp)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("profile postgres: scan records: %w", err)
	}
	return recs, nil
}

// AppendHistory implements [profile.Store].
func (s *Store) AppendHistory(ctx context.Context, id string, text string) error {
	const q = `INSERT INTO history_lines (user_id, text) VALUES ($1, $2)`

	if _, err := s.pool.Exec(ctx, q, id, text); err != nil {
		return mapFK(fmt.Errorf("profile postgres: append history: %w", err))
	}
	return nil
}

// History implements [profile.Store].
func (s *Store) History(ctx context.Context, id string) (string, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return "", err
	}

	const q = `SELECT text FROM history_lines WHERE user_id = $1 ORDER BY id`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return "", fmt.Errorf("profile postgres: history: %w", err)
	}
	lines, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("profile postgres: scan history: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// Ping implements [profile.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("profile postgres: ping: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) mustExist(ctx context.Context, id string) error {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return fmt.Errorf("profile postgres: lookup profile: %w", err)
	}
	if !ok {
		return profile.ErrNotFound
	}
	return nil
}

// mapFK turns a foreign key violation into [profile.ErrNotFound].
func mapFK(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return profile.ErrNotFound
	}
	return err
}
