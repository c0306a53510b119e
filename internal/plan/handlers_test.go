package plan_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/plan"
	"github.com/vexaro/backend-vpn/internal/pricing"
)

type plansResponse struct {
	Data []plan.Plan `json:"data"`
}

type planDetailResponse struct {
	Data plan.Plan `json:"data"`
}

type fakePlanQueries struct {
	plans     []db.Plan
	durations map[[16]byte][]db.PlanDuration
	listCalls int
}

func (f *fakePlanQueries) ListActivePlans(ctx context.Context) ([]db.Plan, error) {
	f.listCalls++
	return f.plans, nil
}

func (f *fakePlanQueries) GetPlanBySlug(ctx context.Context, slug string) (db.Plan, error) {
	for _, p := range f.plans {
		if p.Slug == slug {
			return p, nil
		}
	}
	return db.Plan{}, pgx.ErrNoRows
}

func (f *fakePlanQueries) ListPlanDurations(ctx context.Context, planID pgtype.UUID) ([]db.PlanDuration, error) {
	return f.durations[planID.Bytes], nil
}

func (f *fakePlanQueries) GetPlanDuration(ctx context.Context, arg db.GetPlanDurationParams) (db.PlanDuration, error) {
	for _, d := range f.durations[arg.PlanID.Bytes] {
		if d.ID == arg.ID {
			return d, nil
		}
	}
	return db.PlanDuration{}, pgx.ErrNoRows
}

func newFakePlanQueries() (*fakePlanQueries, db.Plan, db.PlanDuration) {
	planID := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	durationID := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	p := db.Plan{ID: planID, Slug: "personal", Name: "Personal", DeviceLimit: 3, Active: true}
	d := db.PlanDuration{ID: durationID, PlanID: planID, DurationDays: 30, Price: 19900, Active: true}
	return &fakePlanQueries{
		plans:     []db.Plan{p},
		durations: map[[16]byte][]db.PlanDuration{planID.Bytes: {d}},
	}, p, d
}

func newTestService(t *testing.T, queries *fakePlanQueries) *plan.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc, err := plan.NewService(plan.ServiceConfig{
		Queries: queries,
		Cache:   plan.NewCache(client, time.Minute),
	})
	require.NoError(t, err)
	return svc
}

func TestPlansListCached(t *testing.T) {
	queries, _, _ := newFakePlanQueries()
	svc := newTestService(t, queries)
	handler := plan.NewHandler(svc)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
		rec := httptest.NewRecorder()
		handler.Plans(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp plansResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		require.Equal(t, "personal", resp.Data[0].Slug)
		require.Len(t, resp.Data[0].Durations, 1)
		require.Equal(t, int64(19900), resp.Data[0].Durations[0].Price)
	}
	require.Equal(t, 1, queries.listCalls, "second request should be served from cache")
}

func TestPlanDetail(t *testing.T) {
	queries, _, _ := newFakePlanQueries()
	svc := newTestService(t, queries)
	handler := plan.NewHandler(svc)

	router := chi.NewRouter()
	router.Get("/api/v1/plans/{slug}", handler.PlanDetail)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/personal", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp planDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Personal", resp.Data.Name)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/plans/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnitPrice(t *testing.T) {
	queries, p, d := newFakePlanQueries()
	svc := newTestService(t, queries)

	price, err := svc.UnitPrice(context.Background(), uuid.UUID(p.ID.Bytes).String(), uuid.UUID(d.ID.Bytes).String())
	require.NoError(t, err)
	require.Equal(t, int64(19900), price)

	_, err = svc.UnitPrice(context.Background(), uuid.UUID(p.ID.Bytes).String(), uuid.New().String())
	require.ErrorIs(t, err, pricing.ErrPriceNotFound)

	_, err = svc.UnitPrice(context.Background(), "not-a-uuid", uuid.New().String())
	require.ErrorIs(t, err, pricing.ErrPriceNotFound)
}
