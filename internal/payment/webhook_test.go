package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/payment"
	"github.com/vexaro/backend-vpn/internal/subscription"
)

// fakeLedger is an in-memory payment.Querier backing webhook settlement tests.
type fakeLedger struct {
	subs     map[pgtype.UUID]db.Subscription
	plans    map[pgtype.UUID]db.PlanDuration
	payments map[pgtype.UUID]db.Payment
	events   []db.InsertPaymentEventParams
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		subs:     make(map[pgtype.UUID]db.Subscription),
		plans:    make(map[pgtype.UUID]db.PlanDuration),
		payments: make(map[pgtype.UUID]db.Payment),
	}
}

func (f *fakeLedger) GetSubscriptionByID(_ context.Context, id pgtype.UUID) (db.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return db.Subscription{}, pgx.ErrNoRows
	}
	return sub, nil
}

func (f *fakeLedger) GetPlanDurationByID(_ context.Context, id pgtype.UUID) (db.PlanDuration, error) {
	duration, ok := f.plans[id]
	if !ok {
		return db.PlanDuration{}, pgx.ErrNoRows
	}
	return duration, nil
}

func (f *fakeLedger) ActivateSubscription(_ context.Context, arg db.ActivateSubscriptionParams) (db.Subscription, error) {
	sub, ok := f.subs[arg.ID]
	if !ok {
		return db.Subscription{}, pgx.ErrNoRows
	}
	sub.Status = db.SubscriptionStatusACTIVE
	sub.StartsAt = arg.StartsAt
	sub.ExpiresAt = arg.ExpiresAt
	f.subs[arg.ID] = sub
	return sub, nil
}

func (f *fakeLedger) GetLatestPaymentBySubscription(_ context.Context, subscriptionID pgtype.UUID) (db.Payment, error) {
	var latest db.Payment
	found := false
	for _, p := range f.payments {
		if p.SubscriptionID == subscriptionID {
			latest = p
			found = true
		}
	}
	if !found {
		return db.Payment{}, pgx.ErrNoRows
	}
	return latest, nil
}

// UpdatePaymentStatus mirrors the SQL contract: the status changes while
// provider_payload stays whatever the intent or renewal flow wrote there.
func (f *fakeLedger) UpdatePaymentStatus(_ context.Context, arg db.UpdatePaymentStatusParams) (db.Payment, error) {
	p, ok := f.payments[arg.ID]
	if !ok {
		return db.Payment{}, pgx.ErrNoRows
	}
	p.Status = arg.Status
	f.payments[arg.ID] = p
	return p, nil
}

func (f *fakeLedger) InsertPaymentEvent(_ context.Context, arg db.InsertPaymentEventParams) (db.PaymentEvent, error) {
	f.events = append(f.events, arg)
	return db.PaymentEvent{PaymentID: arg.PaymentID, Status: arg.Status, Payload: arg.Payload}, nil
}

func (f *fakeLedger) UpdateSubscriptionStatus(_ context.Context, arg db.UpdateSubscriptionStatusParams) (db.Subscription, error) {
	sub, ok := f.subs[arg.ID]
	if !ok {
		return db.Subscription{}, pgx.ErrNoRows
	}
	sub.Status = arg.Status
	f.subs[arg.ID] = sub
	return sub, nil
}

// scriptedProvider returns a preset verification result; tests mutate the
// target between calls to play out a webhook sequence.
type scriptedProvider struct {
	result *payment.WebhookVerifyResult
}

func (p scriptedProvider) CreateIntent(context.Context, payment.IntentRequest) (payment.IntentResponse, error) {
	return payment.IntentResponse{}, nil
}

func (p scriptedProvider) VerifyWebhook(*http.Request, []byte) (payment.WebhookVerifyResult, error) {
	return *p.result, nil
}

type promoRecorder struct {
	codes   []string
	amounts []int64
}

func (p *promoRecorder) Redeem(_ context.Context, code string, _, _ pgtype.UUID, amount int64) error {
	p.codes = append(p.codes, code)
	p.amounts = append(p.amounts, amount)
	return nil
}

type discountRecorder struct{ consumed int }

func (d *discountRecorder) ConsumePurchaseDiscount(context.Context, pgtype.UUID) error {
	d.consumed++
	return nil
}

func webhookID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

type webhookFixture struct {
	ledger *fakeLedger
	result *payment.WebhookVerifyResult
	promo  *promoRecorder
	users  *discountRecorder
	hook   payment.Webhook
}

func newWebhookFixture(now time.Time) *webhookFixture {
	f := &webhookFixture{
		ledger: newFakeLedger(),
		result: &payment.WebhookVerifyResult{},
		promo:  &promoRecorder{},
		users:  &discountRecorder{},
	}
	f.hook = payment.Webhook{
		Q:         f.ledger,
		Providers: map[string]payment.Provider{"test": scriptedProvider{result: f.result}},
		Promo:     f.promo,
		Users:     f.users,
		Subs:      &subscription.Service{Now: func() time.Time { return now }},
	}
	return f
}

func (f *webhookFixture) seed(sub db.Subscription, pay db.Payment, durationDays int32) (db.Subscription, db.Payment) {
	sub.ID = webhookID()
	sub.UserID = webhookID()
	sub.PlanID = webhookID()
	duration := db.PlanDuration{ID: webhookID(), PlanID: sub.PlanID, DurationDays: durationDays, Active: true}
	sub.DurationID = duration.ID
	f.ledger.plans[duration.ID] = duration
	f.ledger.subs[sub.ID] = sub

	pay.ID = webhookID()
	pay.SubscriptionID = sub.ID
	f.ledger.payments[pay.ID] = pay
	return sub, pay
}

func (f *webhookFixture) deliver(t *testing.T, status string, amount int64, subscriptionID pgtype.UUID) *httptest.ResponseRecorder {
	t.Helper()
	*f.result = payment.WebhookVerifyResult{
		Valid:          true,
		SubscriptionID: uuid.UUID(subscriptionID.Bytes).String(),
		Amount:         amount,
		Status:         status,
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/test", strings.NewReader(`{}`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", "test")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	f.hook.Handle(rec, req)
	return rec
}

func TestWebhookSettlesFirstPurchase(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	f := newWebhookFixture(now)
	sub, pay := f.seed(db.Subscription{
		Status:                  db.SubscriptionStatusPENDINGPAYMENT,
		Promocode:               pgtype.Text{String: "WELCOME", Valid: true},
		PricingPromoDiscount:    5_00,
		PricingPurchaseDiscount: 3_00,
	}, db.Payment{
		Status: db.PaymentStatusPENDING,
		Amount: pgtype.Int8{Int64: 92_00, Valid: true},
	}, 30)

	rec := f.deliver(t, "PAID", 92_00, sub.ID)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Equal(t, db.PaymentStatusPAID, f.ledger.payments[pay.ID].Status)
	settled := f.ledger.subs[sub.ID]
	require.Equal(t, db.SubscriptionStatusACTIVE, settled.Status)
	require.Equal(t, now.Add(30*24*time.Hour), settled.ExpiresAt.Time)
	require.Equal(t, []string{"WELCOME"}, f.promo.codes)
	require.Equal(t, []int64{5_00}, f.promo.amounts)
	require.Equal(t, 1, f.users.consumed)
	require.Len(t, f.ledger.events, 1)
	require.Equal(t, db.PaymentStatusPAID, f.ledger.events[0].Status)
}

// A non-settling callback must not destroy the renewal quote snapshot stored
// on the payment row: the later settling callback still redeems the promocode
// recorded there. The raw callback body is archived in payment_events instead.
func TestWebhookPendingCallbackKeepsRenewalSnapshot(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	f := newWebhookFixture(now)
	snapshot, err := json.Marshal(map[string]any{
		"renewal":   true,
		"promocode": "SPRING",
		"quote":     map[string]int64{"promoDiscount": 2_00},
	})
	require.NoError(t, err)
	expiry := now.Add(5 * 24 * time.Hour)
	sub, pay := f.seed(db.Subscription{
		Status:    db.SubscriptionStatusACTIVE,
		ExpiresAt: pgtype.Timestamptz{Time: expiry, Valid: true},
	}, db.Payment{
		Status:          db.PaymentStatusPENDING,
		Channel:         pgtype.Text{String: "renewal", Valid: true},
		Amount:          pgtype.Int8{Int64: 8_00, Valid: true},
		ProviderPayload: snapshot,
	}, 30)

	rec := f.deliver(t, "PENDING", 8_00, sub.ID)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, db.PaymentStatusPENDING, f.ledger.payments[pay.ID].Status)
	require.JSONEq(t, string(snapshot), string(f.ledger.payments[pay.ID].ProviderPayload))
	require.Empty(t, f.promo.codes)

	rec = f.deliver(t, "PAID", 8_00, sub.ID)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, db.PaymentStatusPAID, f.ledger.payments[pay.ID].Status)
	require.Equal(t, []string{"SPRING"}, f.promo.codes)
	require.Equal(t, []int64{2_00}, f.promo.amounts)
	// Renewal settlement extends the running term and never consumes the
	// one-shot first-purchase discount.
	require.Equal(t, expiry.Add(30*24*time.Hour), f.ledger.subs[sub.ID].ExpiresAt.Time)
	require.Zero(t, f.users.consumed)
}

func TestWebhookFailureCancelsPendingSubscription(t *testing.T) {
	f := newWebhookFixture(time.Now())
	sub, pay := f.seed(db.Subscription{
		Status: db.SubscriptionStatusPENDINGPAYMENT,
	}, db.Payment{
		Status: db.PaymentStatusPENDING,
		Amount: pgtype.Int8{Int64: 10_00, Valid: true},
	}, 30)

	rec := f.deliver(t, "FAILED", 10_00, sub.ID)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, db.PaymentStatusFAILED, f.ledger.payments[pay.ID].Status)
	require.Equal(t, db.SubscriptionStatusCANCELED, f.ledger.subs[sub.ID].Status)
	require.Zero(t, f.users.consumed)
}

func TestWebhookRejectsAmountMismatch(t *testing.T) {
	f := newWebhookFixture(time.Now())
	sub, pay := f.seed(db.Subscription{
		Status: db.SubscriptionStatusPENDINGPAYMENT,
	}, db.Payment{
		Status: db.PaymentStatusPENDING,
		Amount: pgtype.Int8{Int64: 10_00, Valid: true},
	}, 30)

	rec := f.deliver(t, "PAID", 9_99, sub.ID)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, db.PaymentStatusPENDING, f.ledger.payments[pay.ID].Status)
	require.Equal(t, db.SubscriptionStatusPENDINGPAYMENT, f.ledger.subs[sub.ID].Status)
}
