package plan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
)

// Handler exposes public plan endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Plans handles GET /api/v1/plans.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "plan service not configured", nil)
		return
	}
	plans, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": plans})
}

// PlanDetail handles GET /api/v1/plans/{slug}.
func (h *Handler) PlanDetail(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "plan service not configured", nil)
		return
	}
	detail, err := h.service.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": detail})
}

// AdminQuerier captures the database methods required by the admin handlers.
type AdminQuerier interface {
	CreatePlan(ctx context.Context, arg db.CreatePlanParams) (db.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (db.Plan, error)
	UpsertPlanDuration(ctx context.Context, arg db.UpsertPlanDurationParams) (db.PlanDuration, error)
}

// AdminHandler exposes administrative plan management endpoints.
type AdminHandler struct {
	Q       AdminQuerier
	Service *Service
}

type planPayload struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	DeviceLimit int32   `json:"deviceLimit"`
	Active      *bool   `json:"active"`
}

type durationPayload struct {
	DurationDays int32 `json:"durationDays"`
	Price        int64 `json:"price"`
	Active       *bool `json:"active"`
}

// Create handles POST /api/v1/admin/plans.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "plan queries not configured", nil)
		return
	}
	var payload planPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	slug := strings.TrimSpace(payload.Slug)
	name := strings.TrimSpace(payload.Name)
	if slug == "" || name == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "slug and name are required", nil)
		return
	}
	deviceLimit := payload.DeviceLimit
	if deviceLimit < 1 {
		deviceLimit = 1
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	params := db.CreatePlanParams{Slug: slug, Name: name, DeviceLimit: deviceLimit, Active: active}
	if payload.Description != nil {
		params.Description = pgtype.Text{String: *payload.Description, Valid: true}
	}
	created, err := h.Q.CreatePlan(r.Context(), params)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "plan slug already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create plan", nil)
		return
	}
	if h.Service != nil {
		h.Service.InvalidateCache(r.Context())
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// UpsertDuration handles PUT /api/v1/admin/plans/{slug}/durations.
func (h *AdminHandler) UpsertDuration(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "plan queries not configured", nil)
		return
	}
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "slug is required", nil)
		return
	}
	var payload durationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if payload.DurationDays < 1 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "durationDays must be positive", nil)
		return
	}
	if payload.Price < 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "price must not be negative", nil)
		return
	}
	target, err := h.Q.GetPlanBySlug(r.Context(), slug)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "plan not found", nil)
		return
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	duration, err := h.Q.UpsertPlanDuration(r.Context(), db.UpsertPlanDurationParams{
		PlanID:       target.ID,
		DurationDays: payload.DurationDays,
		Price:        payload.Price,
		Active:       active,
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to upsert duration", nil)
		return
	}
	if h.Service != nil {
		h.Service.InvalidateCache(r.Context())
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": duration})
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		common.JSONError(w, status, code, message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
