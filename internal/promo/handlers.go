package promo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
)

// AdminQuerier captures the database methods required by the admin handlers.
type AdminQuerier interface {
	CreatePromocode(ctx context.Context, arg db.CreatePromocodeParams) (db.Promocode, error)
	UpdatePromocode(ctx context.Context, arg db.UpdatePromocodeParams) (db.Promocode, error)
	GetPromocodeByCode(ctx context.Context, code string) (db.Promocode, error)
}

// Handler exposes administrative promocode management endpoints.
type Handler struct {
	Q   AdminQuerier
	Svc *Service
}

type promoPayload struct {
	Code         string     `json:"code"`
	Kind         string     `json:"kind"`
	Value        int64      `json:"value"`
	PercentBps   *int32     `json:"percentBps"`
	MinSpend     int64      `json:"minSpend"`
	UsageLimit   *int32     `json:"usageLimit"`
	PerUserLimit *int32     `json:"perUserLimit"`
	Audience     string     `json:"audience"`
	ValidFrom    *time.Time `json:"validFrom"`
	ValidTo      *time.Time `json:"validTo"`
	Active       *bool      `json:"active"`
}

type previewRequest struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
	UserID string `json:"userId"`
}

// Create inserts a new promocode.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo queries not configured", nil)
		return
	}
	var payload promoPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	params, err := buildCreateParams(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	promo, err := h.Q.CreatePromocode(r.Context(), params)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "promocode already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create promocode", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": promo})
}

// Update mutates an existing promocode identified by code.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo queries not configured", nil)
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	var payload promoPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	params, err := buildUpdateParams(code, payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	promo, err := h.Q.UpdatePromocode(r.Context(), params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "promocode not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update promocode", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": promo})
}

// Preview returns the simulated discount for a code without persisting state.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo service not configured", nil)
		return
	}
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if req.Amount <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "amount must be positive", nil)
		return
	}
	result, err := h.Svc.Preview(r.Context(), req.Code, req.UserID, req.Amount)
	if err != nil {
		if isEligibilityError(err) {
			common.JSONError(w, http.StatusBadRequest, "NOT_ELIGIBLE", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to preview promocode", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func buildCreateParams(payload promoPayload) (db.CreatePromocodeParams, error) {
	code := strings.TrimSpace(payload.Code)
	if code == "" {
		return db.CreatePromocodeParams{}, errors.New("code is required")
	}
	kind := strings.TrimSpace(payload.Kind)
	if kind == "" {
		kind = string(db.PromoKindFixedAmount)
	}
	pk := db.PromoKind(kind)
	switch pk {
	case db.PromoKindFixedAmount, db.PromoKindPercent:
	default:
		return db.CreatePromocodeParams{}, errors.New("invalid kind")
	}
	if pk == db.PromoKindPercent && (payload.PercentBps == nil || *payload.PercentBps <= 0 || *payload.PercentBps > 10000) {
		return db.CreatePromocodeParams{}, errors.New("percentBps must be within 1..10000")
	}
	audience := strings.TrimSpace(payload.Audience)
	if audience == "" {
		audience = AudienceAll
	}
	switch audience {
	case AudienceAll, AudienceNewUsers:
	default:
		return db.CreatePromocodeParams{}, errors.New("invalid audience")
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	return db.CreatePromocodeParams{
		Code:         code,
		Kind:         pk,
		Value:        payload.Value,
		PercentBps:   int32ToNullable(payload.PercentBps),
		MinSpend:     payload.MinSpend,
		UsageLimit:   int32ToNullable(payload.UsageLimit),
		PerUserLimit: int32ToNullable(payload.PerUserLimit),
		Audience:     audience,
		ValidFrom:    timeToNullable(payload.ValidFrom),
		ValidTo:      timeToNullable(payload.ValidTo),
		Active:       active,
	}, nil
}

func buildUpdateParams(code string, payload promoPayload) (db.UpdatePromocodeParams, error) {
	payload.Code = code
	params, err := buildCreateParams(payload)
	if err != nil {
		return db.UpdatePromocodeParams{}, err
	}
	return db.UpdatePromocodeParams{
		Code:         code,
		Value:        params.Value,
		PercentBps:   params.PercentBps,
		MinSpend:     params.MinSpend,
		UsageLimit:   params.UsageLimit,
		PerUserLimit: params.PerUserLimit,
		Audience:     params.Audience,
		ValidFrom:    params.ValidFrom,
		ValidTo:      params.ValidTo,
		Active:       params.Active,
	}, nil
}

func int32ToNullable(v *int32) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: *v, Valid: true}
}

func timeToNullable(v *time.Time) pgtype.Timestamptz {
	if v == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *v, Valid: true}
}
