package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
)

// Handler exposes HTTP endpoints for payment intents and status polling.
type Handler struct {
	Svc *Service
	Q   *db.Queries
}

type intentReq struct {
	SubscriptionID string `json:"subscriptionId"`
	Provider       string `json:"provider"`
	Channel        string `json:"channel"`
}

type intentResp struct {
	Provider    string     `json:"provider"`
	Token       string     `json:"token,omitempty"`
	RedirectURL string     `json:"redirectUrl,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Intent creates (or reuses) a payment intent for the authenticated user's subscription.
func (h *Handler) Intent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil || h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	var req intentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	req.SubscriptionID = strings.TrimSpace(req.SubscriptionID)
	if req.SubscriptionID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "subscriptionId is required", nil)
		return
	}
	subUUID, err := toUUID(req.SubscriptionID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid subscriptionId", nil)
		return
	}
	userUUID, err := toUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user", nil)
		return
	}
	if _, err := h.Q.GetSubscriptionByIDForUser(r.Context(), db.GetSubscriptionByIDForUserParams{ID: subUUID, UserID: userUUID}); err != nil {
		common.JSONError(w, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", "subscription not found", nil)
		return
	}
	payment, err := h.Svc.CreateIntent(r.Context(), req.SubscriptionID, 0, req.Provider, req.Channel)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusGatewayTimeout
		}
		common.JSONError(w, status, "INTENT_FAILED", err.Error(), nil)
		return
	}
	resp := intentResp{
		Provider:    payment.Provider.String,
		Token:       payment.IntentToken.String,
		RedirectURL: payment.RedirectUrl.String,
	}
	if payment.ExpiresAt.Valid {
		t := payment.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	common.JSON(w, http.StatusOK, resp)
}

// Status reports the consolidated payment status for a subscription belonging to the authenticated user.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil || h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	subscriptionID := strings.TrimSpace(chi.URLParam(r, "subscriptionId"))
	if subscriptionID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "subscriptionId is required", nil)
		return
	}
	subUUID, err := toUUID(subscriptionID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid subscriptionId", nil)
		return
	}
	userUUID, err := toUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user", nil)
		return
	}
	if _, err := h.Q.GetSubscriptionByIDForUser(r.Context(), db.GetSubscriptionByIDForUserParams{ID: subUUID, UserID: userUUID}); err != nil {
		common.JSONError(w, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", "subscription not found", nil)
		return
	}
	status, err := h.Svc.ConsolidatedStatus(r.Context(), subscriptionID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "STATUS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": status})
}
