// Package sqlite provides a [profile.Store] backed by a local SQLite file via
// the pure-Go modernc.org/sqlite driver. It is the default for single-user
// desktop installs where no PostgreSQL server is available.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/celestial/pkg/profile"
)

var _ profile.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    chat_count INTEGER NOT NULL DEFAULT 0,
    is_premium INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_history (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    transcript TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY(user_id) REFERENCES profiles(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chat_history_user_timestamp ON chat_history(user_id, timestamp);
CREATE TABLE IF NOT EXISTS history_lines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(user_id) REFERENCES profiles(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_history_lines_user ON history_lines(user_id, id);
`

// Store wraps a SQLite database file.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open creates the parent directory of path if needed, opens the database in
// WAL mode with foreign keys enforced and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("profile sqlite: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("profile sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile sqlite: init schema: %w", err)
	}
	return &Store{db: db, clock: func() time.Time { return time.Now().UTC() }}, nil
}

const profileColumns = `id, full_name, email, chat_count, is_premium, created_at, updated_at`

func scanProfile(row *sql.Row) (*profile.Profile, error) {
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
	now := s.clock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles(id, full_name, email, chat_count, is_premium, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Email, p.UsageCount, p.IsPremium, now, now)
	if err != nil {
		return nil, fmt.Errorf("profile sqlite: create profile: %w", err)
	}
	return s.GetProfile(ctx, p.ID)
}

// GetProfile implements [profile.Store].
func (s *Store) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile sqlite: get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile implements [profile.Store].
func (s *Store) UpdateProfile(ctx context.Context, id string, u profile.Update) (*profile.Profile, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles
		 SET full_name = COALESCE(?, full_name),
		     chat_count = COALESCE(?, chat_count),
		     is_premium = COALESCE(?, is_premium),
		     updated_at = ?
		 WHERE id = ?`,
		deref(u.Name), deref(u.UsageCount), deref(u.IsPremium), s.clock(), id)
	if err != nil {
		return nil, fmt.Errorf("profile sqlite: update profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, profile.ErrNotFound
	}
	return s.GetProfile(ctx, id)
}

// AppendConversationRecord implements [profile.Store].
func (s *Store) AppendConversationRecord(ctx context.Context, id string, rec profile.Record) (*profile.Record, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock()
	}
	rec.ProfileID = id
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history(id, user_id, transcript, summary, language, timestamp)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ID, id, rec.Transcript, rec.Summary, rec.Language, rec.Timestamp.UTC())
	if err != nil {
		return nil, fmt.Errorf("profile sqlite: append record: %w", err)
	}
	return &rec, nil
}

// ListConversationRecords implements [profile.Store].
func (s *Store) ListConversationRecords(ctx context.Context, id string, limit int) ([]profile.Record, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	q := `SELECT id, user_id, transcript, summary, language, timestamp
	      FROM chat_history WHERE user_id = ? ORDER BY timestamp DESC, id`
	args := []any{id}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("profile sqlite: list records: %w", err)
	}
	defer rows.Close()

	var recs []profile.Record
	for rows.Next() {
		var r profile.Record
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.Transcript, &r.Summary, &r.Language, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("profile sqlite: scan record: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile sqlite: list records: %w", err)
	}
	return recs, nil
}

// AppendHistory implements [profile.Store].
func (s *Store) AppendHistory(ctx context.Context, id string, text string) error {
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_lines(user_id, text, created_at) VALUES(?, ?, ?)`,
		id, text, s.clock())
	if err != nil {
		return fmt.Errorf("profile sqlite: append history: %w", err)
	}
	return nil
}

// History implements [profile.Store].
func (s *Store) History(ctx context.Context, id string) (string, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return "", err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT text FROM history_lines WHERE user_id = ? ORDER BY id`, id)
	if err != nil {
		return "", fmt.Errorf("profile sqlite: history: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("profile sqlite: scan history: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("profile sqlite: history: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// Ping implements [profile.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) mustExist(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("profile sqlite: lookup profile: %w", err)
	}
	return nil
}

// deref turns a nil pointer into a NULL parameter.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
