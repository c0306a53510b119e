package plan

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/pricing"
)

const listCacheKey = "plans:active"

type queryProvider interface {
	ListActivePlans(ctx context.Context) ([]db.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (db.Plan, error)
	ListPlanDurations(ctx context.Context, planID pgtype.UUID) ([]db.PlanDuration, error)
	GetPlanDuration(ctx context.Context, arg db.GetPlanDurationParams) (db.PlanDuration, error)
}

// Service orchestrates plan queries, DTO assembly, and caching. It is also
// the price source for quote computation.
type Service struct {
	queries queryProvider
	cache   *Cache
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries queryProvider
	Cache   *Cache
}

// Duration is the public payload for a priced billing period.
type Duration struct {
	ID           string `json:"id"`
	DurationDays int    `json:"durationDays"`
	Price        int64  `json:"price"`
}

// Plan is the public payload for a purchasable plan.
type Plan struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	DeviceLimit int        `json:"deviceLimit"`
	Durations   []Duration `json:"durations"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("plan: queries provider is required")
	}
	return &Service{queries: cfg.Queries, cache: cfg.Cache}, nil
}

// List returns all active plans with their durations, served from cache when warm.
func (s *Service) List(ctx context.Context) ([]Plan, error) {
	var cached []Plan
	if ok, err := s.cache.GetJSON(ctx, listCacheKey, &cached); err == nil && ok {
		return cached, nil
	}
	rows, err := s.queries.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	plans := make([]Plan, 0, len(rows))
	for _, row := range rows {
		p, err := s.assemble(ctx, row)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	_ = s.cache.SetJSON(ctx, listCacheKey, plans)
	return plans, nil
}

// GetBySlug returns one plan with its durations.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Plan, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return Plan{}, &common.AppError{HTTPStatus: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "slug is required"}
	}
	row, err := s.queries.GetPlanBySlug(ctx, trimmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, &common.AppError{HTTPStatus: http.StatusNotFound, Code: "NOT_FOUND", Message: "plan not found"}
		}
		return Plan{}, err
	}
	if !row.Active {
		return Plan{}, &common.AppError{HTTPStatus: http.StatusNotFound, Code: "NOT_FOUND", Message: "plan not found"}
	}
	return s.assemble(ctx, row)
}

// UnitPrice resolves the stored price for a plan duration. It satisfies
// pricing.PlanSource.
func (s *Service) UnitPrice(ctx context.Context, planID, durationID string) (pricing.Money, error) {
	pid, err := parseUUID(planID)
	if err != nil {
		return 0, pricing.ErrPriceNotFound
	}
	did, err := parseUUID(durationID)
	if err != nil {
		return 0, pricing.ErrPriceNotFound
	}
	row, err := s.queries.GetPlanDuration(ctx, db.GetPlanDurationParams{ID: did, PlanID: pid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, pricing.ErrPriceNotFound
		}
		return 0, err
	}
	return row.Price, nil
}

// InvalidateCache drops the cached plan list after admin mutations.
func (s *Service) InvalidateCache(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, listCacheKey)
}

func (s *Service) assemble(ctx context.Context, row db.Plan) (Plan, error) {
	durations, err := s.queries.ListPlanDurations(ctx, row.ID)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{
		ID:          uuidString(row.ID),
		Slug:        row.Slug,
		Name:        row.Name,
		DeviceLimit: int(row.DeviceLimit),
		Durations:   make([]Duration, 0, len(durations)),
	}
	if row.Description.Valid {
		desc := row.Description.String
		p.Description = &desc
	}
	for _, d := range durations {
		p.Durations = append(p.Durations, Duration{
			ID:           uuidString(d.ID),
			DurationDays: int(d.DurationDays),
			Price:        d.Price,
		})
	}
	return p, nil
}

func parseUUID(value string) (pgtype.UUID, error) {
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
