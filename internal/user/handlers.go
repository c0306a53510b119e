package user

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
)

// Handler exposes the authenticated profile endpoint.
type Handler struct {
	Svc *Service
}

type profileResponse struct {
	ID                        string     `json:"id"`
	Email                     string     `json:"email"`
	Name                      string     `json:"name"`
	TelegramID                *int64     `json:"telegramId,omitempty"`
	Roles                     []string   `json:"roles"`
	PersonalDiscountPercent   int64      `json:"personalDiscountPercent"`
	PurchaseDiscountPercent   int32      `json:"purchaseDiscountPercent"`
	PurchaseDiscountExpiresAt *time.Time `json:"purchaseDiscountExpiresAt,omitempty"`
}

// Me handles GET /api/v1/users/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Svc.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	id, err := parseUUID(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	row, err := h.Svc.Q.GetUserByID(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		return
	}
	percent, err := h.Svc.ActivePersonalPercent(r.Context(), userID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to resolve discounts", nil)
		return
	}
	if percent <= 0 {
		percent = int64(row.LegacyDiscountPercent)
	}
	resp := profileResponse{
		ID:                      uuid.UUID(row.ID.Bytes).String(),
		Email:                   row.Email,
		Name:                    row.Name,
		Roles:                   row.Roles,
		PersonalDiscountPercent: percent,
		PurchaseDiscountPercent: row.PurchaseDiscountPercent,
	}
	if row.TelegramID.Valid {
		tid := row.TelegramID.Int64
		resp.TelegramID = &tid
	}
	if row.PurchaseDiscountExpiresAt.Valid {
		expires := row.PurchaseDiscountExpiresAt.Time
		resp.PurchaseDiscountExpiresAt = &expires
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": resp})
}

// AdminHandler exposes administrative discount management endpoints.
type AdminHandler struct {
	Svc *Service
}

type personalDiscountPayload struct {
	Percent    int32      `json:"percent"`
	ValidFrom  *time.Time `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil"`
}

type purchaseDiscountPayload struct {
	Percent   int32      `json:"percent"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// GrantPersonal handles PUT /api/v1/admin/users/{id}/personal-discount.
func (h *AdminHandler) GrantPersonal(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	var payload personalDiscountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	record, err := h.Svc.GrantPersonalDiscount(r.Context(), userID, payload.Percent, payload.ValidFrom, payload.ValidUntil)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toPersonalDTO(record)})
}

// GrantPurchase handles PUT /api/v1/admin/users/{id}/purchase-discount.
func (h *AdminHandler) GrantPurchase(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	var payload purchaseDiscountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Svc.GrantPurchaseDiscount(r.Context(), userID, payload.Percent, payload.ExpiresAt); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"percent": payload.Percent}})
}

type personalDiscountDTO struct {
	UserID     string     `json:"userId"`
	Percent    int32      `json:"percent"`
	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

func toPersonalDTO(record db.PersonalDiscount) personalDiscountDTO {
	dto := personalDiscountDTO{
		UserID:  uuid.UUID(record.UserID.Bytes).String(),
		Percent: record.Percent,
	}
	if record.ValidFrom.Valid {
		from := record.ValidFrom.Time
		dto.ValidFrom = &from
	}
	if record.ValidUntil.Valid {
		until := record.ValidUntil.Time
		dto.ValidUntil = &until
	}
	return dto
}
