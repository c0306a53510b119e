package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const subscriptionColumns = `id, user_id, plan_id, duration_id, quantity, status, promocode,
pricing_base, pricing_bundle_discount, pricing_personal_discount, pricing_purchase_discount,
pricing_promo_discount, pricing_total, currency, starts_at, expires_at, created_at, updated_at`

const createSubscription = `
INSERT INTO subscriptions (
	user_id, plan_id, duration_id, quantity, status, promocode,
	pricing_base, pricing_bundle_discount, pricing_personal_discount,
	pricing_purchase_discount, pricing_promo_discount, pricing_total, currency
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + subscriptionColumns

// CreateSubscriptionParams are the inputs for CreateSubscription.
type CreateSubscriptionParams struct {
	UserID                  pgtype.UUID
	PlanID                  pgtype.UUID
	DurationID              pgtype.UUID
	Quantity                int32
	Status                  SubscriptionStatus
	Promocode               pgtype.Text
	PricingBase             int64
	PricingBundleDiscount   int64
	PricingPersonalDiscount int64
	PricingPurchaseDiscount int64
	PricingPromoDiscount    int64
	PricingTotal            int64
	Currency                string
}

func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (Subscription, error) {
	row := q.db.QueryRow(ctx, createSubscription,
		arg.UserID, arg.PlanID, arg.DurationID, arg.Quantity, arg.Status, arg.Promocode,
		arg.PricingBase, arg.PricingBundleDiscount, arg.PricingPersonalDiscount,
		arg.PricingPurchaseDiscount, arg.PricingPromoDiscount, arg.PricingTotal, arg.Currency)
	return scanSubscription(row)
}

const getSubscriptionByID = `
SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1
`

func (q *Queries) GetSubscriptionByID(ctx context.Context, id pgtype.UUID) (Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, getSubscriptionByID, id))
}

const getSubscriptionByIDForUser = `
SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 AND user_id = $2
`

// GetSubscriptionByIDForUserParams are the inputs for GetSubscriptionByIDForUser.
type GetSubscriptionByIDForUserParams struct {
	ID     pgtype.UUID
	UserID pgtype.UUID
}

func (q *Queries) GetSubscriptionByIDForUser(ctx context.Context, arg GetSubscriptionByIDForUserParams) (Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, getSubscriptionByIDForUser, arg.ID, arg.UserID))
}

const listSubscriptionsByUser = `
SELECT ` + subscriptionColumns + `
FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
`

// ListSubscriptionsByUserParams are the inputs for ListSubscriptionsByUser.
type ListSubscriptionsByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListSubscriptionsByUser(ctx context.Context, arg ListSubscriptionsByUserParams) ([]Subscription, error) {
	rows, err := q.db.Query(ctx, listSubscriptionsByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

const updateSubscriptionStatus = `
UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1
RETURNING ` + subscriptionColumns

// UpdateSubscriptionStatusParams are the inputs for UpdateSubscriptionStatus.
type UpdateSubscriptionStatusParams struct {
	ID     pgtype.UUID
	Status SubscriptionStatus
}

func (q *Queries) UpdateSubscriptionStatus(ctx context.Context, arg UpdateSubscriptionStatusParams) (Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, updateSubscriptionStatus, arg.ID, arg.Status))
}

const activateSubscription = `
UPDATE subscriptions SET
	status = 'ACTIVE',
	starts_at = COALESCE(starts_at, $2),
	expires_at = $3,
	updated_at = now()
WHERE id = $1
RETURNING ` + subscriptionColumns

// ActivateSubscriptionParams are the inputs for ActivateSubscription.
type ActivateSubscriptionParams struct {
	ID        pgtype.UUID
	StartsAt  pgtype.Timestamptz
	ExpiresAt pgtype.Timestamptz
}

func (q *Queries) ActivateSubscription(ctx context.Context, arg ActivateSubscriptionParams) (Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, activateSubscription, arg.ID, arg.StartsAt, arg.ExpiresAt))
}

const listExpiredActive = `
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at
LIMIT $2
`

// ListExpiredActiveParams are the inputs for ListExpiredActive.
type ListExpiredActiveParams struct {
	Now   pgtype.Timestamptz
	Limit int32
}

func (q *Queries) ListExpiredActive(ctx context.Context, arg ListExpiredActiveParams) ([]Subscription, error) {
	rows, err := q.db.Query(ctx, listExpiredActive, arg.Now, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

const countSubscriptionsByUser = `
SELECT COUNT(*) FROM subscriptions WHERE user_id = $1
`

func (q *Queries) CountSubscriptionsByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countSubscriptionsByUser, userID).Scan(&n)
	return n, err
}

const countPaidSubscriptionsByUser = `
SELECT COUNT(*) FROM subscriptions
WHERE user_id = $1 AND status IN ('ACTIVE', 'EXPIRED')
`

// CountPaidSubscriptionsByUser counts subscriptions that have ever been paid
// for, used to decide whether a user still qualifies as a first-time buyer.
func (q *Queries) CountPaidSubscriptionsByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countPaidSubscriptionsByUser, userID).Scan(&n)
	return n, err
}

const markSubscriptionExpired = `
UPDATE subscriptions SET status = 'EXPIRED', updated_at = now()
WHERE id = $1 AND status = 'ACTIVE'
`

// MarkSubscriptionExpired flips an active subscription to EXPIRED. The flag is
// false when the row was already transitioned by another worker.
func (q *Queries) MarkSubscriptionExpired(ctx context.Context, id pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, markSubscriptionExpired, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.DurationID, &s.Quantity, &s.Status, &s.Promocode,
		&s.PricingBase, &s.PricingBundleDiscount, &s.PricingPersonalDiscount,
		&s.PricingPurchaseDiscount, &s.PricingPromoDiscount, &s.PricingTotal,
		&s.Currency, &s.StartsAt, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}
