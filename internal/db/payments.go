package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, subscription_id, provider, channel, status, amount,
intent_token, redirect_url, provider_payload, expires_at, created_at, updated_at`

const createPayment = `
INSERT INTO payments (subscription_id, provider, channel, status, amount, intent_token, redirect_url, provider_payload, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + paymentColumns

// CreatePaymentParams are the inputs for CreatePayment.
type CreatePaymentParams struct {
	SubscriptionID  pgtype.UUID
	Provider        pgtype.Text
	Channel         pgtype.Text
	Status          PaymentStatus
	Amount          pgtype.Int8
	IntentToken     pgtype.Text
	RedirectUrl     pgtype.Text
	ProviderPayload []byte
	ExpiresAt       pgtype.Timestamptz
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx, createPayment,
		arg.SubscriptionID, arg.Provider, arg.Channel, arg.Status, arg.Amount,
		arg.IntentToken, arg.RedirectUrl, arg.ProviderPayload, arg.ExpiresAt)
	return scanPayment(row)
}

const getPaymentByID = `
SELECT ` + paymentColumns + ` FROM payments WHERE id = $1
`

func (q *Queries) GetPaymentByID(ctx context.Context, id pgtype.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentByID, id))
}

const getLatestPaymentBySubscription = `
SELECT ` + paymentColumns + `
FROM payments WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT 1
`

func (q *Queries) GetLatestPaymentBySubscription(ctx context.Context, subscriptionID pgtype.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getLatestPaymentBySubscription, subscriptionID))
}

const updatePaymentStatus = `
UPDATE payments SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + paymentColumns

// UpdatePaymentStatusParams are the inputs for UpdatePaymentStatus.
type UpdatePaymentStatusParams struct {
	ID     pgtype.UUID
	Status PaymentStatus
}

// UpdatePaymentStatus transitions a payment row. provider_payload is left
// untouched: renewal rows carry their quote snapshot there, and webhook
// bodies are archived in payment_events instead.
func (q *Queries) UpdatePaymentStatus(ctx context.Context, arg UpdatePaymentStatusParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, updatePaymentStatus, arg.ID, arg.Status))
}

const updatePaymentIntent = `
UPDATE payments SET provider = $2, channel = COALESCE(NULLIF($3, ''), channel), intent_token = $4,
	redirect_url = $5, provider_payload = COALESCE($6, provider_payload), expires_at = $7, updated_at = now()
WHERE id = $1
RETURNING ` + paymentColumns

// UpdatePaymentIntentParams are the inputs for UpdatePaymentIntent.
type UpdatePaymentIntentParams struct {
	ID              pgtype.UUID
	Provider        pgtype.Text
	Channel         string
	IntentToken     pgtype.Text
	RedirectUrl     pgtype.Text
	ProviderPayload []byte
	ExpiresAt       pgtype.Timestamptz
}

// UpdatePaymentIntent attaches (or refreshes) provider intent details on a
// pending payment row.
func (q *Queries) UpdatePaymentIntent(ctx context.Context, arg UpdatePaymentIntentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, updatePaymentIntent,
		arg.ID, arg.Provider, arg.Channel, arg.IntentToken, arg.RedirectUrl, arg.ProviderPayload, arg.ExpiresAt))
}

const insertPaymentEvent = `
INSERT INTO payment_events (payment_id, status, payload)
VALUES ($1, $2, $3)
RETURNING id, payment_id, status, payload, created_at
`

// InsertPaymentEventParams are the inputs for InsertPaymentEvent.
type InsertPaymentEventParams struct {
	PaymentID pgtype.UUID
	Status    PaymentStatus
	Payload   []byte
}

func (q *Queries) InsertPaymentEvent(ctx context.Context, arg InsertPaymentEventParams) (PaymentEvent, error) {
	row := q.db.QueryRow(ctx, insertPaymentEvent, arg.PaymentID, arg.Status, arg.Payload)
	var e PaymentEvent
	err := row.Scan(&e.ID, &e.PaymentID, &e.Status, &e.Payload, &e.CreatedAt)
	return e, err
}

func scanPayment(row interface{ Scan(...any) error }) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.SubscriptionID, &p.Provider, &p.Channel, &p.Status, &p.Amount,
		&p.IntentToken, &p.RedirectUrl, &p.ProviderPayload, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
