package subscription

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

	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/events"
	"github.com/vexaro/backend-vpn/internal/obs"
	"github.com/vexaro/backend-vpn/internal/pricing"
)

// ActivationQuerier is the query surface Activate needs. Payment settlement
// passes its own (possibly transaction-scoped) queries here.
type ActivationQuerier interface {
	GetSubscriptionByID(ctx context.Context, id pgtype.UUID) (db.Subscription, error)
	GetPlanDurationByID(ctx context.Context, id pgtype.UUID) (db.PlanDuration, error)
	ActivateSubscription(ctx context.Context, arg db.ActivateSubscriptionParams) (db.Subscription, error)
}

// Querier is the database surface the service depends on. *db.Queries
// implements it.
type Querier interface {
	ActivationQuerier
	CreateSubscription(ctx context.Context, arg db.CreateSubscriptionParams) (db.Subscription, error)
	GetSubscriptionByIDForUser(ctx context.Context, arg db.GetSubscriptionByIDForUserParams) (db.Subscription, error)
	CreatePayment(ctx context.Context, arg db.CreatePaymentParams) (db.Payment, error)
	ListExpiredActive(ctx context.Context, arg db.ListExpiredActiveParams) ([]db.Subscription, error)
	MarkSubscriptionExpired(ctx context.Context, id pgtype.UUID) (bool, error)
	CountSubscriptionsByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	ListSubscriptionsByUser(ctx context.Context, arg db.ListSubscriptionsByUserParams) ([]db.Subscription, error)
}

// ErrNotRenewable is returned when renewal is requested for a subscription
// that was never activated.
var ErrNotRenewable = errors.New("subscription cannot be renewed")

// QuoteInput identifies the subject of a price preview.
type QuoteInput struct {
	PlanID     string  `json:"planId"`
	DurationID string  `json:"durationId"`
	Quantity   int     `json:"quantity"`
	Promocode  *string `json:"promocode"`
}

// PurchaseInput captures a purchase request.
type PurchaseInput struct {
	PlanID     string  `json:"planId"`
	DurationID string  `json:"durationId"`
	Quantity   int     `json:"quantity"`
	Promocode  *string `json:"promocode"`
}

// Output describes a created subscription awaiting payment.
type Output struct {
	SubscriptionID string        `json:"subscriptionId"`
	Status         string        `json:"status"`
	Quote          pricing.Quote `json:"quote"`
}

// RenewOutput describes a pending renewal payment.
type RenewOutput struct {
	SubscriptionID string        `json:"subscriptionId"`
	PaymentID      string        `json:"paymentId"`
	Quote          pricing.Quote `json:"quote"`
}

// Service owns the subscription lifecycle: quoting, purchase, renewal,
// activation on payment settle, and expiry.
type Service struct {
	Q      Querier
	Engine *pricing.Engine
	Events *events.Bus
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// QuotePurchase prices a prospective purchase without persisting anything.
func (s *Service) QuotePurchase(ctx context.Context, userID string, in QuoteInput) (pricing.Quote, error) {
	if s == nil || s.Engine == nil {
		return pricing.Quote{}, errors.New("subscription service not configured")
	}
	return s.quote(ctx, pricing.Input{
		UserID:     userID,
		PlanID:     in.PlanID,
		DurationID: in.DurationID,
		Quantity:   in.Quantity,
		Promocode:  in.Promocode,
	})
}

// quote funnels every engine call through one place so quote outcomes are
// counted uniformly for previews, purchases, and renewals.
func (s *Service) quote(ctx context.Context, in pricing.Input) (pricing.Quote, error) {
	quote, err := s.Engine.Quote(ctx, in)
	if obs.PricingQuoteTotal != nil {
		result := "success"
		switch {
		case errors.Is(err, pricing.ErrPriceNotFound):
			result = "not_found"
		case errors.Is(err, pricing.ErrInvalidQuantity):
			result = "rejected"
		case err != nil:
			result = "error"
		}
		obs.PricingQuoteTotal.WithLabelValues(result).Inc()
	}
	return quote, err
}

// Purchase quotes the request and records a PENDING_PAYMENT subscription with
// the full pricing snapshot. The payment intent is created separately.
func (s *Service) Purchase(ctx context.Context, userID string, in PurchaseInput) (Output, error) {
	if s == nil || s.Q == nil || s.Engine == nil {
		return Output{}, errors.New("subscription service not configured")
	}
	uID, err := toUUID(userID)
	if err != nil {
		return Output{}, fmt.Errorf("invalid user id: %w", err)
	}
	pID, err := toUUID(in.PlanID)
	if err != nil {
		return Output{}, fmt.Errorf("invalid plan id: %w", err)
	}
	dID, err := toUUID(in.DurationID)
	if err != nil {
		return Output{}, fmt.Errorf("invalid duration id: %w", err)
	}
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}
	// Guard before the int32 column conversion below; the engine enforces the
	// same bound but the persistence path must never rely on that alone.
	if qty > pricing.MaxQuantity {
		return Output{}, pricing.ErrInvalidQuantity
	}

	quote, err := s.quote(ctx, pricing.Input{
		UserID:     userID,
		PlanID:     in.PlanID,
		DurationID: in.DurationID,
		Quantity:   qty,
		Promocode:  in.Promocode,
	})
	if err != nil {
		return Output{}, err
	}

	params := db.CreateSubscriptionParams{
		UserID:                  uID,
		PlanID:                  pID,
		DurationID:              dID,
		Quantity:                int32(qty),
		Status:                  db.SubscriptionStatusPENDINGPAYMENT,
		PricingBase:             quote.BasePrice,
		PricingBundleDiscount:   quote.BundleDiscount,
		PricingPersonalDiscount: quote.PersonalDiscount,
		PricingPurchaseDiscount: quote.PurchaseDiscount,
		PricingPromoDiscount:    quote.PromoDiscount,
		PricingTotal:            quote.FinalPrice,
		Currency:                quote.Currency,
	}
	if in.Promocode != nil && strings.TrimSpace(*in.Promocode) != "" && quote.PromoDiscount > 0 {
		params.Promocode = pgtype.Text{String: strings.TrimSpace(*in.Promocode), Valid: true}
	}
	sub, err := s.Q.CreateSubscription(ctx, params)
	if err != nil {
		return Output{}, err
	}

	if s.Events != nil {
		_, _ = s.Events.Emit(ctx, events.TopicSubscriptionCreated, sub.ID, map[string]any{
			"subscriptionId": uuidString(sub.ID),
			"userId":         userID,
			"total":          quote.FinalPrice,
			"currency":       quote.Currency,
		})
	}
	return Output{SubscriptionID: uuidString(sub.ID), Status: string(sub.Status), Quote: quote}, nil
}

// Renew quotes a renewal of an existing subscription and records a pending
// payment for it. Renewal pricing skips the one-shot purchase discount; the
// bundle tier follows the subscription's own quantity.
func (s *Service) Renew(ctx context.Context, userID, subscriptionID string, promocode *string) (RenewOutput, error) {
	if s == nil || s.Q == nil || s.Engine == nil {
		return RenewOutput{}, errors.New("subscription service not configured")
	}
	uID, err := toUUID(userID)
	if err != nil {
		return RenewOutput{}, fmt.Errorf("invalid user id: %w", err)
	}
	sID, err := toUUID(subscriptionID)
	if err != nil {
		return RenewOutput{}, fmt.Errorf("invalid subscription id: %w", err)
	}
	sub, err := s.Q.GetSubscriptionByIDForUser(ctx, db.GetSubscriptionByIDForUserParams{ID: sID, UserID: uID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RenewOutput{}, ErrNotRenewable
		}
		return RenewOutput{}, err
	}
	switch sub.Status {
	case db.SubscriptionStatusACTIVE, db.SubscriptionStatusEXPIRED:
	default:
		return RenewOutput{}, ErrNotRenewable
	}

	quote, err := s.quote(ctx, pricing.Input{
		UserID:     userID,
		PlanID:     uuidString(sub.PlanID),
		DurationID: uuidString(sub.DurationID),
		Quantity:   int(sub.Quantity),
		Promocode:  promocode,
		IsRenewal:  true,
	})
	if err != nil {
		return RenewOutput{}, err
	}

	// The renewal quote is snapshotted on the payment row so settlement can
	// record promocode usage without a second pricing pass.
	snapshot := map[string]any{"renewal": true, "quote": quote}
	if promocode != nil && strings.TrimSpace(*promocode) != "" {
		snapshot["promocode"] = strings.TrimSpace(*promocode)
	}
	payload, _ := json.Marshal(snapshot)
	payment, err := s.Q.CreatePayment(ctx, db.CreatePaymentParams{
		SubscriptionID:  sub.ID,
		Channel:         pgtype.Text{String: "renewal", Valid: true},
		Status:          db.PaymentStatusPENDING,
		Amount:          pgtype.Int8{Int64: quote.FinalPrice, Valid: true},
		ProviderPayload: payload,
	})
	if err != nil {
		return RenewOutput{}, err
	}
	return RenewOutput{
		SubscriptionID: uuidString(sub.ID),
		PaymentID:      uuidString(payment.ID),
		Quote:          quote,
	}, nil
}

// Activate transitions a paid subscription to ACTIVE. For a first activation
// the term starts now; a renewal extends the current expiry. Already-active
// time is never lost.
func (s *Service) Activate(ctx context.Context, q ActivationQuerier, subscriptionID pgtype.UUID, renewal bool) (db.Subscription, error) {
	if s == nil {
		return db.Subscription{}, errors.New("subscription service not configured")
	}
	if q == nil {
		q = s.Q
	}
	sub, err := q.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return db.Subscription{}, err
	}
	duration, err := q.GetPlanDurationByID(ctx, sub.DurationID)
	if err != nil {
		return db.Subscription{}, err
	}
	now := s.now()
	term := time.Duration(duration.DurationDays) * 24 * time.Hour

	base := now
	if renewal && sub.ExpiresAt.Valid && sub.ExpiresAt.Time.After(now) {
		base = sub.ExpiresAt.Time
	}
	updated, err := q.ActivateSubscription(ctx, db.ActivateSubscriptionParams{
		ID:        sub.ID,
		StartsAt:  pgtype.Timestamptz{Time: now, Valid: true},
		ExpiresAt: pgtype.Timestamptz{Time: base.Add(term), Valid: true},
	})
	if err != nil {
		return db.Subscription{}, err
	}

	if s.Events != nil {
		topic := events.TopicSubscriptionActivated
		if renewal {
			topic = events.TopicSubscriptionRenewed
		}
		_, _ = s.Events.Emit(ctx, topic, updated.ID, map[string]any{
			"subscriptionId": uuidString(updated.ID),
			"userId":         uuidString(updated.UserID),
			"expiresAt":      updated.ExpiresAt.Time,
		})
	}
	return updated, nil
}

// ExpireDue sweeps ACTIVE subscriptions whose term has lapsed. Returns the
// number of subscriptions transitioned.
func (s *Service) ExpireDue(ctx context.Context, batch int32) (int, error) {
	if s == nil || s.Q == nil {
		return 0, errors.New("subscription service not configured")
	}
	if batch < 1 {
		batch = 100
	}
	due, err := s.Q.ListExpiredActive(ctx, db.ListExpiredActiveParams{
		Now:   pgtype.Timestamptz{Time: s.now(), Valid: true},
		Limit: batch,
	})
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, sub := range due {
		ok, err := s.Q.MarkSubscriptionExpired(ctx, sub.ID)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++
		if s.Events != nil {
			_, _ = s.Events.Emit(ctx, events.TopicSubscriptionExpired, sub.ID, map[string]any{
				"subscriptionId": uuidString(sub.ID),
				"userId":         uuidString(sub.UserID),
			})
		}
	}
	return expired, nil
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
