package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/obs"
)

// Service coordinates payment intents and status retrieval.
type Service struct {
	Q               *db.Queries
	Providers       map[string]Provider
	DefaultProvider string
	Currency        string
	IntentTTL       time.Duration
	CallbackBaseURL string
}

// CreateIntent creates (or reuses) a payment intent for the provided
// subscription. A first purchase gets a fresh payment row; a renewal opened
// via the renew endpoint already has a pending row, which gets the intent
// attached instead.
func (s *Service) CreateIntent(ctx context.Context, subscriptionID string, amount int64, providerKey, channel string) (db.Payment, error) {
	var zero db.Payment
	if s == nil || s.Q == nil || len(s.Providers) == 0 {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateIntent")
	defer span.End()

	start := time.Now()
	providerName := normaliseLabel(providerKey)
	channelLabel := normaliseLabel(channel)
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerName),
			attribute.String("payment.channel", channelLabel),
			attribute.Float64("payment.intent.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.intent.result", result),
		)
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(providerName, channelLabel, result).Inc()
		}
	}()

	provider, key, err := s.resolveProvider(providerKey)
	if err != nil {
		return zero, err
	}
	providerName = key
	ttl := s.IntentTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	subUUID, err := toUUID(subscriptionID)
	if err != nil {
		return zero, fmt.Errorf("invalid subscription id: %w", err)
	}
	span.SetAttributes(attribute.String("subscription.id", subscriptionID))
	sub, err := s.Q.GetSubscriptionByID(ctx, subUUID)
	if err != nil {
		return zero, err
	}

	expectedAmount := sub.PricingTotal
	var pending *db.Payment
	existing, err := s.Q.GetLatestPaymentBySubscription(ctx, subUUID)
	if err == nil {
		switch existing.Status {
		case db.PaymentStatusPAID:
			return zero, errors.New("subscription already paid")
		case db.PaymentStatusPENDING:
			if existing.Amount.Valid {
				expectedAmount = existing.Amount.Int64
			}
			hasToken := existing.IntentToken.Valid && strings.TrimSpace(existing.IntentToken.String) != ""
			fresh := !existing.ExpiresAt.Valid || existing.ExpiresAt.Time.After(time.Now())
			if hasToken && fresh {
				if existing.Provider.Valid {
					providerName = normaliseLabel(existing.Provider.String)
				}
				result = "reused"
				return existing, nil
			}
			pending = &existing
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return zero, err
	}
	if pending == nil && sub.Status != db.SubscriptionStatusPENDINGPAYMENT {
		return zero, fmt.Errorf("subscription status %s does not allow new intents", sub.Status)
	}
	if amount > 0 && amount != expectedAmount {
		return zero, fmt.Errorf("amount mismatch: got %d expected %d", amount, expectedAmount)
	}

	req := IntentRequest{
		SubscriptionID:  subscriptionID,
		Amount:          expectedAmount,
		Currency:        s.currency(sub.Currency),
		Channel:         channel,
		ExpiresAtSec:    int(ttl.Seconds()),
		CallbackBaseURL: s.CallbackBaseURL,
	}
	resp, err := provider.CreateIntent(ctx, req)
	if err != nil {
		span.RecordError(err)
		return zero, err
	}
	if resp.Provider != "" {
		providerName = normaliseLabel(resp.Provider)
	}
	result = "success"
	payload := toJSON(map[string]any{
		"request":  req,
		"response": resp,
	})
	expiresAt := pgtype.Timestamptz{Valid: true}
	if resp.ExpiresAt > 0 {
		expiresAt.Time = time.Unix(resp.ExpiresAt, 0)
	} else {
		expiresAt.Time = time.Now().Add(ttl)
	}

	if pending != nil {
		payment, err := s.Q.UpdatePaymentIntent(ctx, db.UpdatePaymentIntentParams{
			ID:          pending.ID,
			Provider:    pgtype.Text{String: providerName, Valid: providerName != ""},
			Channel:     strings.TrimSpace(channel),
			IntentToken: pgtype.Text{String: resp.Token, Valid: strings.TrimSpace(resp.Token) != ""},
			RedirectUrl: pgtype.Text{String: resp.RedirectURL, Valid: strings.TrimSpace(resp.RedirectURL) != ""},
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			return zero, err
		}
		return payment, nil
	}

	payment, err := s.Q.CreatePayment(ctx, db.CreatePaymentParams{
		SubscriptionID:  subUUID,
		Provider:        pgtype.Text{String: providerName, Valid: providerName != ""},
		Channel:         pgtype.Text{String: channel, Valid: strings.TrimSpace(channel) != ""},
		Status:          db.PaymentStatusPENDING,
		ProviderPayload: payload,
		IntentToken:     pgtype.Text{String: resp.Token, Valid: strings.TrimSpace(resp.Token) != ""},
		RedirectUrl:     pgtype.Text{String: resp.RedirectURL, Valid: strings.TrimSpace(resp.RedirectURL) != ""},
		Amount:          pgtype.Int8{Int64: expectedAmount, Valid: true},
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return zero, err
	}
	_, _ = s.Q.InsertPaymentEvent(ctx, db.InsertPaymentEventParams{
		PaymentID: payment.ID,
		Status:    db.PaymentStatusPENDING,
		Payload:   payload,
	})
	return payment, nil
}

// ConsolidatedStatus returns the best-known payment status for a subscription.
func (s *Service) ConsolidatedStatus(ctx context.Context, subscriptionID string) (string, error) {
	if s == nil || s.Q == nil {
		return "", errors.New("payment service not configured")
	}
	subUUID, err := toUUID(subscriptionID)
	if err != nil {
		return "", fmt.Errorf("invalid subscription id: %w", err)
	}
	payment, err := s.Q.GetLatestPaymentBySubscription(ctx, subUUID)
	if err == nil {
		return string(payment.Status), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	sub, err := s.Q.GetSubscriptionByID(ctx, subUUID)
	if err != nil {
		return "", err
	}
	switch sub.Status {
	case db.SubscriptionStatusACTIVE, db.SubscriptionStatusEXPIRED:
		return "PAID", nil
	case db.SubscriptionStatusCANCELED:
		return "FAILED", nil
	case db.SubscriptionStatusPENDINGPAYMENT:
		fallthrough
	default:
		return "PENDING", nil
	}
}

func (s *Service) resolveProvider(key string) (Provider, string, error) {
	name := normaliseLabel(key)
	if name == "unknown" {
		name = normaliseLabel(s.DefaultProvider)
	}
	provider, ok := s.Providers[name]
	if !ok {
		return nil, name, fmt.Errorf("provider %s not supported", name)
	}
	return provider, name, nil
}

func (s *Service) currency(fallback string) string {
	if s != nil && strings.TrimSpace(s.Currency) != "" {
		return s.Currency
	}
	return fallback
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func toUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
