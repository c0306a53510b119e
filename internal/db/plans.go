package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listActivePlans = `
SELECT id, slug, name, description, device_limit, active, created_at, updated_at
FROM plans WHERE active ORDER BY created_at
`

func (q *Queries) ListActivePlans(ctx context.Context) ([]Plan, error) {
	rows, err := q.db.Query(ctx, listActivePlans)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

const getPlanBySlug = `
SELECT id, slug, name, description, device_limit, active, created_at, updated_at
FROM plans WHERE slug = $1
`

func (q *Queries) GetPlanBySlug(ctx context.Context, slug string) (Plan, error) {
	return scanPlan(q.db.QueryRow(ctx, getPlanBySlug, slug))
}

const getPlanByID = `
SELECT id, slug, name, description, device_limit, active, created_at, updated_at
FROM plans WHERE id = $1
`

func (q *Queries) GetPlanByID(ctx context.Context, id pgtype.UUID) (Plan, error) {
	return scanPlan(q.db.QueryRow(ctx, getPlanByID, id))
}

const createPlan = `
INSERT INTO plans (slug, name, description, device_limit, active)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, slug, name, description, device_limit, active, created_at, updated_at
`

// CreatePlanParams are the inputs for CreatePlan.
type CreatePlanParams struct {
	Slug        string
	Name        string
	Description pgtype.Text
	DeviceLimit int32
	Active      bool
}

func (q *Queries) CreatePlan(ctx context.Context, arg CreatePlanParams) (Plan, error) {
	row := q.db.QueryRow(ctx, createPlan, arg.Slug, arg.Name, arg.Description, arg.DeviceLimit, arg.Active)
	return scanPlan(row)
}

const upsertPlanDuration = `
INSERT INTO plan_durations (plan_id, duration_days, price, active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (plan_id, duration_days) DO UPDATE
SET price = EXCLUDED.price, active = EXCLUDED.active
RETURNING id, plan_id, duration_days, price, active, created_at
`

// UpsertPlanDurationParams are the inputs for UpsertPlanDuration.
type UpsertPlanDurationParams struct {
	PlanID       pgtype.UUID
	DurationDays int32
	Price        int64
	Active       bool
}

func (q *Queries) UpsertPlanDuration(ctx context.Context, arg UpsertPlanDurationParams) (PlanDuration, error) {
	row := q.db.QueryRow(ctx, upsertPlanDuration, arg.PlanID, arg.DurationDays, arg.Price, arg.Active)
	return scanPlanDuration(row)
}

const listPlanDurations = `
SELECT id, plan_id, duration_days, price, active, created_at
FROM plan_durations WHERE plan_id = $1 AND active ORDER BY duration_days
`

func (q *Queries) ListPlanDurations(ctx context.Context, planID pgtype.UUID) ([]PlanDuration, error) {
	rows, err := q.db.Query(ctx, listPlanDurations, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlanDuration
	for rows.Next() {
		d, err := scanPlanDuration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const getPlanDuration = `
SELECT id, plan_id, duration_days, price, active, created_at
FROM plan_durations WHERE id = $1 AND plan_id = $2 AND active
`

// GetPlanDurationParams are the inputs for GetPlanDuration.
type GetPlanDurationParams struct {
	ID     pgtype.UUID
	PlanID pgtype.UUID
}

func (q *Queries) GetPlanDuration(ctx context.Context, arg GetPlanDurationParams) (PlanDuration, error) {
	return scanPlanDuration(q.db.QueryRow(ctx, getPlanDuration, arg.ID, arg.PlanID))
}

const getPlanDurationByID = `
SELECT id, plan_id, duration_days, price, active, created_at
FROM plan_durations WHERE id = $1
`

func (q *Queries) GetPlanDurationByID(ctx context.Context, id pgtype.UUID) (PlanDuration, error) {
	return scanPlanDuration(q.db.QueryRow(ctx, getPlanDurationByID, id))
}

func scanPlan(row interface{ Scan(...any) error }) (Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.DeviceLimit, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPlanDuration(row interface{ Scan(...any) error }) (PlanDuration, error) {
	var d PlanDuration
	err := row.Scan(&d.ID, &d.PlanID, &d.DurationDays, &d.Price, &d.Active, &d.CreatedAt)
	return d, err
}
