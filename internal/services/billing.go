package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrInvalidSignature is returned for webhook payloads that fail verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

const (
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

// TierSetter changes a user's subscription tier
type TierSetter interface {
	SetTier(ctx context.Context, userID string, t models.Tier) error
}

type billingEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// BillingService applies subscription webhooks to profile tiers
type BillingService struct {
	tiers     TierSetter
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewBillingService creates a new billing service
func NewBillingService(tiers TierSetter, secret string, tolerance time.Duration) *BillingService {
	return &BillingService{tiers: tiers, secret: secret, tolerance: tolerance, now: time.Now}
}

// HandleWebhook verifies the signature header and applies the event
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := s.verify(payload, signature); err != nil {
		return err
	}

	var evt billingEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return apperr.Validation("malformed webhook payload: %v", err)
	}

	var t models.Tier
	switch evt.Type {
	case eventSubscriptionCreated, eventSubscriptionUpdated:
		t = models.TierFree
		if evt.Data.Object.Status == "active" {
			t = models.TierPro
		}
	case eventSubscriptionDeleted:
		t = models.TierFree
	default:
		log.Debug().Str("event_id", evt.ID).Str("type", evt.Type).Msg("Ignoring billing event")
		return nil
	}

	userID := evt.Data.Object.Metadata["user_id"]
	if userID == "" {
		log.Warn().Str("event_id", evt.ID).Str("type", evt.Type).Msg("Billing event without user_id")
		return nil
	}

	return s.tiers.SetTier(ctx, userID, t)
}

// verify checks a "t=<unix>,v1=<hex>" header against HMAC-SHA256(secret, t + "." + payload)
func (s *BillingService) verify(payload []byte, header string) error {
	if s.secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	var (
		ts         int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = n
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if ts == 0 || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age > s.tolerance || age < -s.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := signPayload(s.secret, ts, payload)
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err == nil && hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}

func signPayload(secret string, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
