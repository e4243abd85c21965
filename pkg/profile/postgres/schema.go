// Package postgres provides a PostgreSQL-backed [profile.Store].
//
// Three tables are used: profiles (account and entitlement fields),
// chat_history (finished conversations with their summaries) and
// history_lines (the per-turn log replayed into the next session's system
// instruction). [Migrate] creates them idempotently.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	p, _ := store.GetProfile(ctx, userID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    id          TEXT         PRIMARY KEY,
    full_name   TEXT         NOT NULL DEFAULT '',
    email       TEXT         NOT NULL DEFAULT '',
    chat_count  INTEGER      NOT NULL DEFAULT 0,
    is_premium  BOOLEAN      NOT NULL DEFAULT false,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);`

const ddlChatHistory = `
CREATE TABLE IF NOT EXISTS chat_history (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
    transcript  TEXT         NOT NULL DEFAULT '',
    summary     TEXT         NOT NULL DEFAULT '',
    language    TEXT         NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_history_user_timestamp
    ON chat_history (user_id, timestamp DESC);`

const ddlHistoryLines = `
CREATE TABLE IF NOT EXISTS history_lines (
    id          BIGSERIAL    PRIMARY KEY,
    user_id     TEXT         NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_lines_user
    ON history_lines (user_id, id);`

// Migrate creates all tables and indexes if they do not already exist.
// It is safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		ddl  string
	}{
		{"profiles", ddlProfiles},
		{"chat_history", ddlChatHistory},
		{"history_lines", ddlHistoryLines},
	} {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
