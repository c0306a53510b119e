package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/events"
	"github.com/vexaro/backend-vpn/internal/obs"
	"github.com/vexaro/backend-vpn/internal/subscription"
)

// Querier is the database surface webhook settlement depends on. *db.Queries
// implements it; the embedded activation surface is handed to the
// subscription service so activation joins the settlement transaction.
type Querier interface {
	subscription.ActivationQuerier
	GetLatestPaymentBySubscription(ctx context.Context, subscriptionID pgtype.UUID) (db.Payment, error)
	UpdatePaymentStatus(ctx context.Context, arg db.UpdatePaymentStatusParams) (db.Payment, error)
	InsertPaymentEvent(ctx context.Context, arg db.InsertPaymentEventParams) (db.PaymentEvent, error)
	UpdateSubscriptionStatus(ctx context.Context, arg db.UpdateSubscriptionStatusParams) (db.Subscription, error)
}

// Webhook handles payment provider callbacks, including signature verification and settlement.
type Webhook struct {
	Q         Querier
	Pool      *pgxpool.Pool
	Providers map[string]Provider
	Replay    *redis.Client
	ReplayTTL time.Duration
	Promo     PromoRedeemer
	Users     DiscountConsumer
	Subs      *subscription.Service
	Events    *events.Bus
}

// PromoRedeemer records promocode usage as part of settlement.
type PromoRedeemer interface {
	Redeem(ctx context.Context, code string, subscriptionID, userID pgtype.UUID, amount int64) error
}

// DiscountConsumer clears a user's one-shot purchase discount once it has been
// spent on a paid subscription.
type DiscountConsumer interface {
	ConsumePurchaseDiscount(ctx context.Context, userID pgtype.UUID) error
}

// renewalSnapshot is the quote envelope stored on renewal payment rows.
type renewalSnapshot struct {
	Renewal   bool   `json:"renewal"`
	Promocode string `json:"promocode"`
	Quote     struct {
		PromoDiscount int64 `json:"promoDiscount"`
	} `json:"quote"`
}

// Handle processes webhook callbacks for the configured payment provider(s).
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil || h.Providers == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	outcome := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(providerKey, outcome).Inc()
		}
	}()
	provider, ok := h.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	result, err := provider.VerifyWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		outcome = "invalid_signature"
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	if h.Replay != nil && h.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:%s:%s", providerKey, common.Sha256Hex(string(body)))
		ok, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !ok {
			outcome = "replay"
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}
	if result.ProviderPayload == nil {
		result.ProviderPayload = body
	}
	subUUID, err := toUUID(result.SubscriptionID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION_ID", "invalid subscription identifier", nil)
		return
	}
	ctx := r.Context()
	q := h.Q
	var tx pgx.Tx
	if base, ok := h.Q.(*db.Queries); ok && h.Pool != nil {
		tx, err = h.Pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "TX_ERROR", err.Error(), nil)
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()
		q = base.WithTx(tx)
	}

	payment, err := q.GetLatestPaymentBySubscription(ctx, subUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_FETCH_ERROR", err.Error(), nil)
		return
	}
	if result.Amount > 0 && payment.Amount.Valid && payment.Amount.Int64 != result.Amount {
		outcome = "amount_mismatch"
		common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "provider amount mismatch", nil)
		return
	}
	renewal := payment.Channel.Valid && payment.Channel.String == "renewal"
	var snapshot renewalSnapshot
	if renewal && len(payment.ProviderPayload) > 0 {
		_ = json.Unmarshal(payment.ProviderPayload, &snapshot)
	}
	newStatus := normaliseWebhookStatus(result.Status)
	shouldSettle := newStatus == db.PaymentStatusPAID && payment.Status != db.PaymentStatusPAID

	// The raw webhook body is archived per event below; the payment row's
	// provider_payload keeps whatever the intent or renewal flow stored there.
	if _, err := q.UpdatePaymentStatus(ctx, db.UpdatePaymentStatusParams{
		ID:     payment.ID,
		Status: newStatus,
	}); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_UPDATE_ERROR", err.Error(), nil)
		return
	}
	_, _ = q.InsertPaymentEvent(ctx, db.InsertPaymentEventParams{
		PaymentID: payment.ID,
		Status:    newStatus,
		Payload:   result.ProviderPayload,
	})

	sub, err := q.GetSubscriptionByID(ctx, payment.SubscriptionID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SUBSCRIPTION_FETCH_ERROR", err.Error(), nil)
		return
	}
	subscriptionCanceled := false
	promoRedeemed := ""
	switch newStatus {
	case db.PaymentStatusPAID:
		if shouldSettle {
			if h.Subs == nil {
				common.JSONError(w, http.StatusInternalServerError, "SETTLEMENT_NOT_CONFIGURED", "subscription service unavailable", nil)
				return
			}
			if _, err := h.Subs.Activate(ctx, q, sub.ID, renewal); err != nil {
				common.JSONError(w, http.StatusInternalServerError, "ACTIVATION_FAILED", err.Error(), nil)
				return
			}
			code, promoAmount := settledPromo(sub, renewal, snapshot)
			if h.Promo != nil && code != "" {
				if err := h.Promo.Redeem(ctx, code, sub.ID, sub.UserID, promoAmount); err != nil {
					common.JSONError(w, http.StatusInternalServerError, "PROMO_SETTLEMENT_FAILED", err.Error(), nil)
					return
				}
				promoRedeemed = code
			}
			if h.Users != nil && !renewal && sub.PricingPurchaseDiscount > 0 {
				if err := h.Users.ConsumePurchaseDiscount(ctx, sub.UserID); err != nil {
					common.JSONError(w, http.StatusInternalServerError, "DISCOUNT_CONSUME_FAILED", err.Error(), nil)
					return
				}
			}
		}
	case db.PaymentStatusFAILED, db.PaymentStatusEXPIRED:
		if sub.Status == db.SubscriptionStatusPENDINGPAYMENT {
			if _, err := q.UpdateSubscriptionStatus(ctx, db.UpdateSubscriptionStatusParams{
				ID:     sub.ID,
				Status: db.SubscriptionStatusCANCELED,
			}); err == nil {
				subscriptionCanceled = true
			}
		}
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			common.JSONError(w, http.StatusInternalServerError, "TX_COMMIT_ERROR", err.Error(), nil)
			return
		}
	}
	outcome = "ok"
	if promoRedeemed != "" && obs.PromoRedemptionTotal != nil {
		obs.PromoRedemptionTotal.Inc()
	}
	if h.Events != nil {
		payload := map[string]any{
			"subscriptionId": uuidString(sub.ID),
			"paymentId":      uuidString(payment.ID),
			"userId":         uuidString(sub.UserID),
			"status":         string(newStatus),
			"renewal":        renewal,
		}
		switch newStatus {
		case db.PaymentStatusPAID:
			_, _ = h.Events.Emit(ctx, events.TopicPaymentPaid, sub.ID, payload)
			if promoRedeemed != "" {
				_, _ = h.Events.Emit(ctx, events.TopicPromocodeRedeemed, sub.ID, map[string]any{
					"subscriptionId": uuidString(sub.ID),
					"userId":         uuidString(sub.UserID),
					"code":           promoRedeemed,
				})
			}
		case db.PaymentStatusFAILED:
			if subscriptionCanceled {
				payload["canceled"] = true
			}
			_, _ = h.Events.Emit(ctx, events.TopicPaymentFailed, sub.ID, payload)
		case db.PaymentStatusEXPIRED:
			if subscriptionCanceled {
				payload["canceled"] = true
			}
			_, _ = h.Events.Emit(ctx, events.TopicPaymentExpired, sub.ID, payload)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// settledPromo resolves which promocode, if any, should be recorded for a
// freshly paid payment. First purchases carry the code on the subscription
// snapshot; renewals carry it on the payment row.
func settledPromo(sub db.Subscription, renewal bool, snapshot renewalSnapshot) (string, int64) {
	if renewal {
		code := strings.TrimSpace(snapshot.Promocode)
		if code == "" || snapshot.Quote.PromoDiscount <= 0 {
			return "", 0
		}
		return code, snapshot.Quote.PromoDiscount
	}
	if !sub.Promocode.Valid {
		return "", 0
	}
	code := strings.TrimSpace(sub.Promocode.String)
	if code == "" || sub.PricingPromoDiscount <= 0 {
		return "", 0
	}
	return code, sub.PricingPromoDiscount
}

func normaliseWebhookStatus(status string) db.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID", "SUCCESS", "SETTLED":
		return db.PaymentStatusPAID
	case "FAILED", "CANCELED", "DENY":
		return db.PaymentStatusFAILED
	case "EXPIRED":
		return db.PaymentStatusEXPIRED
	case "REFUNDED":
		return db.PaymentStatusREFUNDED
	default:
		return db.PaymentStatusPENDING
	}
}
