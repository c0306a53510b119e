package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const promoColumns = `id, code, kind, value, percent_bps, min_spend, usage_limit, used_count,
per_user_limit, audience, valid_from, valid_to, active, created_at`

const createPromocode = `
INSERT INTO promocodes (code, kind, value, percent_bps, min_spend, usage_limit, per_user_limit, audience, valid_from, valid_to, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + promoColumns

// CreatePromocodeParams are the inputs for CreatePromocode.
type CreatePromocodeParams struct {
	Code         string
	Kind         PromoKind
	Value        int64
	PercentBps   pgtype.Int4
	MinSpend     int64
	UsageLimit   pgtype.Int4
	PerUserLimit pgtype.Int4
	Audience     string
	ValidFrom    pgtype.Timestamptz
	ValidTo      pgtype.Timestamptz
	Active       bool
}

func (q *Queries) CreatePromocode(ctx context.Context, arg CreatePromocodeParams) (Promocode, error) {
	row := q.db.QueryRow(ctx, createPromocode,
		arg.Code, arg.Kind, arg.Value, arg.PercentBps, arg.MinSpend,
		arg.UsageLimit, arg.PerUserLimit, arg.Audience, arg.ValidFrom, arg.ValidTo, arg.Active)
	return scanPromocode(row)
}

const updatePromocode = `
UPDATE promocodes SET
	value = $2, percent_bps = $3, min_spend = $4, usage_limit = $5,
	per_user_limit = $6, audience = $7, valid_from = $8, valid_to = $9, active = $10
WHERE code = $1
RETURNING ` + promoColumns

// UpdatePromocodeParams are the inputs for UpdatePromocode.
type UpdatePromocodeParams struct {
	Code         string
	Value        int64
	PercentBps   pgtype.Int4
	MinSpend     int64
	UsageLimit   pgtype.Int4
	PerUserLimit pgtype.Int4
	Audience     string
	ValidFrom    pgtype.Timestamptz
	ValidTo      pgtype.Timestamptz
	Active       bool
}

func (q *Queries) UpdatePromocode(ctx context.Context, arg UpdatePromocodeParams) (Promocode, error) {
	row := q.db.QueryRow(ctx, updatePromocode,
		arg.Code, arg.Value, arg.PercentBps, arg.MinSpend, arg.UsageLimit,
		arg.PerUserLimit, arg.Audience, arg.ValidFrom, arg.ValidTo, arg.Active)
	return scanPromocode(row)
}

const getPromocodeByCode = `
SELECT ` + promoColumns + ` FROM promocodes WHERE code = $1
`

func (q *Queries) GetPromocodeByCode(ctx context.Context, code string) (Promocode, error) {
	return scanPromocode(q.db.QueryRow(ctx, getPromocodeByCode, code))
}

const countPromoRedemptionsByUser = `
SELECT COUNT(*) FROM promo_redemptions WHERE promo_id = $1 AND user_id = $2
`

// CountPromoRedemptionsByUserParams are the inputs for CountPromoRedemptionsByUser.
type CountPromoRedemptionsByUserParams struct {
	PromoID pgtype.UUID
	UserID  pgtype.UUID
}

func (q *Queries) CountPromoRedemptionsByUser(ctx context.Context, arg CountPromoRedemptionsByUserParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countPromoRedemptionsByUser, arg.PromoID, arg.UserID).Scan(&n)
	return n, err
}

const getPromoRedemptionBySubscription = `
SELECT id, promo_id, user_id, subscription_id, amount, created_at
FROM promo_redemptions WHERE promo_id = $1 AND subscription_id = $2
`

// GetPromoRedemptionBySubscriptionParams are the inputs for GetPromoRedemptionBySubscription.
type GetPromoRedemptionBySubscriptionParams struct {
	PromoID        pgtype.UUID
	SubscriptionID pgtype.UUID
}

func (q *Queries) GetPromoRedemptionBySubscription(ctx context.Context, arg GetPromoRedemptionBySubscriptionParams) (PromoRedemption, error) {
	row := q.db.QueryRow(ctx, getPromoRedemptionBySubscription, arg.PromoID, arg.SubscriptionID)
	var r PromoRedemption
	err := row.Scan(&r.ID, &r.PromoID, &r.UserID, &r.SubscriptionID, &r.Amount, &r.CreatedAt)
	return r, err
}

const insertPromoRedemption = `
INSERT INTO promo_redemptions (promo_id, user_id, subscription_id, amount)
VALUES ($1, $2, $3, $4)
RETURNING id, promo_id, user_id, subscription_id, amount, created_at
`

// InsertPromoRedemptionParams are the inputs for InsertPromoRedemption.
type InsertPromoRedemptionParams struct {
	PromoID        pgtype.UUID
	UserID         pgtype.UUID
	SubscriptionID pgtype.UUID
	Amount         int64
}

func (q *Queries) InsertPromoRedemption(ctx context.Context, arg InsertPromoRedemptionParams) (PromoRedemption, error) {
	row := q.db.QueryRow(ctx, insertPromoRedemption, arg.PromoID, arg.UserID, arg.SubscriptionID, arg.Amount)
	var r PromoRedemption
	err := row.Scan(&r.ID, &r.PromoID, &r.UserID, &r.SubscriptionID, &r.Amount, &r.CreatedAt)
	return r, err
}

const increasePromoUsedCount = `
UPDATE promocodes SET used_count = used_count + 1
WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
`

// IncreasePromoUsedCount bumps the global usage counter. The returned flag is
// false when the usage limit was already exhausted.
func (q *Queries) IncreasePromoUsedCount(ctx context.Context, id pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, increasePromoUsedCount, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanPromocode(row interface{ Scan(...any) error }) (Promocode, error) {
	var p Promocode
	err := row.Scan(&p.ID, &p.Code, &p.Kind, &p.Value, &p.PercentBps, &p.MinSpend,
		&p.UsageLimit, &p.UsedCount, &p.PerUserLimit, &p.Audience,
		&p.ValidFrom, &p.ValidTo, &p.Active, &p.CreatedAt)
	return p, err
}
