package subscription

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/pricing"
)

// Handler exposes subscription and pricing endpoints.
type Handler struct {
	Svc *Service
}

type renewRequest struct {
	Promocode *string `json:"promocode"`
}

// Quote handles POST /api/v1/pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "subscription service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload QuoteInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	quote, err := h.Svc.QuotePurchase(r.Context(), userID, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// Purchase handles POST /api/v1/subscriptions.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "subscription service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload PurchaseInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	out, err := h.Svc.Purchase(r.Context(), userID, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Renew handles POST /api/v1/subscriptions/{id}/renew.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "subscription service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload renewRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	out, err := h.Svc.Renew(r.Context(), userID, chi.URLParam(r, "id"), payload.Promocode)
	if err != nil {
		if errors.Is(err, ErrNotRenewable) {
			common.JSONError(w, http.StatusConflict, "NOT_RENEWABLE", err.Error(), nil)
			return
		}
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// List handles GET /api/v1/subscriptions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Svc.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "subscription queries not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	uID, err := toUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	total, err := h.Svc.Q.CountSubscriptionsByUser(r.Context(), uID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to count subscriptions", nil)
		return
	}
	subs, err := h.Svc.Q.ListSubscriptionsByUser(r.Context(), db.ListSubscriptionsByUserParams{
		UserID: uID,
		Limit:  int32(perPage),
		Offset: int32((page - 1) * perPage),
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list subscriptions", nil)
		return
	}
	response := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		response = append(response, subscriptionDTO(sub))
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": response,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}

// Get handles GET /api/v1/subscriptions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Svc.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "subscription queries not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	uID, err := toUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	sID, err := toUUID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid subscription id", nil)
		return
	}
	sub, err := h.Svc.Q.GetSubscriptionByIDForUser(r.Context(), db.GetSubscriptionByIDForUserParams{ID: sID, UserID: uID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "subscription not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load subscription", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": subscriptionDTO(sub)})
}

func subscriptionDTO(sub db.Subscription) map[string]any {
	dto := map[string]any{
		"id":       uuidString(sub.ID),
		"planId":   uuidString(sub.PlanID),
		"status":   sub.Status,
		"quantity": sub.Quantity,
		"currency": sub.Currency,
		"pricing": map[string]int64{
			"base":             sub.PricingBase,
			"bundleDiscount":   sub.PricingBundleDiscount,
			"personalDiscount": sub.PricingPersonalDiscount,
			"purchaseDiscount": sub.PricingPurchaseDiscount,
			"promoDiscount":    sub.PricingPromoDiscount,
			"total":            sub.PricingTotal,
		},
		"createdAt": sub.CreatedAt.Time,
	}
	if sub.Promocode.Valid {
		dto["promocode"] = sub.Promocode.String
	}
	if sub.StartsAt.Valid {
		dto["startsAt"] = sub.StartsAt.Time.Format(time.RFC3339)
	}
	if sub.ExpiresAt.Valid {
		dto["expiresAt"] = sub.ExpiresAt.Time.Format(time.RFC3339)
	}
	return dto
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, pricing.ErrPriceNotFound) {
		common.JSONError(w, http.StatusNotFound, "PRICE_NOT_FOUND", "no price for the requested plan duration", nil)
		return
	}
	if errors.Is(err, pricing.ErrInvalidQuantity) {
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_QUANTITY", "quantity is out of the accepted range", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
}
