package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-reminder-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateEmail is returned when a profile with the same email exists
var ErrDuplicateEmail = errors.New("email already registered")

const profileColumns = `id, email, COALESCE(display_name, ''), COALESCE(avatar_url, ''),
	notification_preferences, subscription_tier, push_token, created_at, updated_at`

// ProfileRepository handles database operations for profiles
type ProfileRepository struct {
	db DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create creates a new profile
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	prefs, err := json.Marshal(p.NotificationPreferences)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	query := `
		INSERT INTO profiles (id, email, display_name, avatar_url, notification_preferences,
			subscription_tier, push_token, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5::jsonb, $6, $7, $8, $9)
	`
	_, err = r.db.Exec(ctx, query,
		p.ID, p.Email, p.DisplayName, p.AvatarURL, string(prefs),
		p.SubscriptionTier, p.PushToken, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetByID retrieves a profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if nf := notFound(err, "profile "+id); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// Search matches email or display name case-insensitively
func (r *ProfileRepository) Search(ctx context.Context, query string, limit int) ([]*models.Profile, error) {
	pattern := "%" + escapeLike(query) + "%"
	sql := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE email ILIKE $1 OR display_name ILIKE $1
		ORDER BY email ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, sql, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// UpdateTier sets the subscription tier of a profile
func (r *ProfileRepository) UpdateTier(ctx context.Context, id string, tier models.Tier, at time.Time) error {
	query := `UPDATE profiles SET subscription_tier = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, "subscription tier", query, id, tier, at)
}

// UpdatePushToken updates the push token for a profile
func (r *ProfileRepository) UpdatePushToken(ctx context.Context, id string, pushToken *string, at time.Time) error {
	query := `UPDATE profiles SET push_token = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, "push token", query, id, pushToken, at)
}

// UpdatePreferences replaces the notification preferences of a profile
func (r *ProfileRepository) UpdatePreferences(ctx context.Context, id string, prefs models.NotificationPreferences, at time.Time) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	query := `UPDATE profiles SET notification_preferences = $2::jsonb, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, "preferences", query, id, string(data), at)
}

func (r *ProfileRepository) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("profile: %w", ErrNotFound)
	}
	return nil
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var (
		p     models.Profile
		prefs []byte
	)
	err := row.Scan(
		&p.ID, &p.Email, &p.DisplayName, &p.AvatarURL, &prefs,
		&p.SubscriptionTier, &p.PushToken, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(prefs, &p.NotificationPreferences); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return &p, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
