package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/repository"
	"call-reminder-backend/internal/tier"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	jwtExpDays  = 365
	searchLimit = 10
)

// ProfileService handles profile and token logic
type ProfileService struct {
	profiles  ProfileStore
	jwtSecret string
	now       func() time.Time
}

// NewProfileService creates a new profile service
func NewProfileService(profiles ProfileStore, jwtSecret string) *ProfileService {
	return &ProfileService{
		profiles:  profiles,
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
}

// GenerateJWT generates a JWT token for a user
func (s *ProfileService) GenerateJWT(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the user ID
func (s *ProfileService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

// Register creates a free-tier profile and returns it with a signed token
func (s *ProfileService) Register(ctx context.Context, email, displayName string) (*models.Profile, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", apperr.Validation("a valid email is required")
	}

	now := timestamp(s.now())
	profile := &models.Profile{
		ID:                      uuid.New().String(),
		Email:                   email,
		DisplayName:             strings.TrimSpace(displayName),
		NotificationPreferences: models.DefaultNotificationPreferences(),
		SubscriptionTier:        models.TierFree,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	token, err := s.GenerateJWT(profile.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, "", apperr.Validation("email %s is already registered", email)
		}
		return nil, "", apperr.Persistence("create profile", err)
	}

	log.Info().Str("user_id", profile.ID).Msg("Profile registered")
	return profile, token, nil
}

// Get returns a profile by ID
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr("load profile", err)
	}
	return p, nil
}

// UpdatePushToken stores the device token push alerts go to. An empty token clears it.
func (s *ProfileService) UpdatePushToken(ctx context.Context, userID, pushToken string) error {
	var tok *string
	if t := strings.TrimSpace(pushToken); t != "" {
		tok = &t
	}
	if err := s.profiles.UpdatePushToken(ctx, userID, tok, timestamp(s.now())); err != nil {
		return storeErr("update push token", err)
	}
	return nil
}

// UpdatePreferences replaces the caller's notification preferences
func (s *ProfileService) UpdatePreferences(ctx context.Context, userID string, prefs models.NotificationPreferences) (*models.Profile, error) {
	if err := s.profiles.UpdatePreferences(ctx, userID, prefs, timestamp(s.now())); err != nil {
		return nil, storeErr("update preferences", err)
	}
	return s.Get(ctx, userID)
}

// Search finds users by email or display name. An empty query matches nobody.
func (s *ProfileService) Search(ctx context.Context, query string) ([]*models.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*models.Profile{}, nil
	}
	found, err := s.profiles.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, apperr.Persistence("search profiles", err)
	}
	if found == nil {
		found = []*models.Profile{}
	}
	return found, nil
}

// Limits returns what the user's tier unlocks
func (s *ProfileService) Limits(ctx context.Context, userID string) (models.Tier, tier.Limits, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return "", tier.Limits{}, err
	}
	return p.SubscriptionTier, tier.LimitsFor(p.SubscriptionTier), nil
}

// SetTier changes a subscription tier. Existing reminders are not touched.
func (s *ProfileService) SetTier(ctx context.Context, userID string, t models.Tier) error {
	if err := s.profiles.UpdateTier(ctx, userID, t, timestamp(s.now())); err != nil {
		return storeErr("update tier", err)
	}
	log.Info().Str("user_id", userID).Str("tier", string(t)).Msg("Subscription tier changed")
	return nil
}
