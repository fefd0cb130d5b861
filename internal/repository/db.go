package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// DB is the subset of *pgxpool.Pool the repositories use
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id                       TEXT PRIMARY KEY,
	email                    TEXT NOT NULL UNIQUE,
	display_name             TEXT,
	avatar_url               TEXT,
	notification_preferences JSONB NOT NULL DEFAULT '{"push_enabled":true,"call_popup_enabled":true,"sound_enabled":true}',
	subscription_tier        TEXT NOT NULL DEFAULT 'free' CHECK (subscription_tier IN ('free', 'pro')),
	push_token               TEXT,
	created_at               TIMESTAMPTZ NOT NULL,
	updated_at               TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reminders (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL CHECK (char_length(title) BETWEEN 1 AND 100),
	description       TEXT,
	scheduled_at      TIMESTAMPTZ NOT NULL,
	created_by        TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	assigned_to       TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	media_attachments JSONB NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'cancelled')),
	is_recurring      BOOLEAN NOT NULL DEFAULT FALSE,
	recurring_pattern TEXT CHECK (recurring_pattern IN ('daily', 'weekly', 'monthly')),
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reminders_created_by ON reminders(created_by);
CREATE INDEX IF NOT EXISTS idx_reminders_assigned_to ON reminders(assigned_to);
CREATE INDEX IF NOT EXISTS idx_reminders_status_scheduled ON reminders(status, scheduled_at);

CREATE TABLE IF NOT EXISTS shared_reminders (
	id          TEXT PRIMARY KEY,
	reminder_id TEXT NOT NULL REFERENCES reminders(id) ON DELETE CASCADE,
	shared_with TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	permission  TEXT NOT NULL DEFAULT 'view' CHECK (permission IN ('view', 'edit')),
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (reminder_id, shared_with)
);

CREATE INDEX IF NOT EXISTS idx_shared_reminders_shared_with ON shared_reminders(shared_with);
`

// Migrate creates the tables and indexes if they do not exist
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
