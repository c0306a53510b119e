package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const endpointColumns = `id, url, secret, topics, active, created_at, updated_at`

const createWebhookEndpoint = `
INSERT INTO webhook_endpoints (url, secret, topics, active)
VALUES ($1, $2, $3, $4)
RETURNING ` + endpointColumns

// CreateWebhookEndpointParams are the inputs for CreateWebhookEndpoint.
type CreateWebhookEndpointParams struct {
	Url    string
	Secret string
	Topics []string
	Active bool
}

func (q *Queries) CreateWebhookEndpoint(ctx context.Context, arg CreateWebhookEndpointParams) (WebhookEndpoint, error) {
	row := q.db.QueryRow(ctx, createWebhookEndpoint, arg.Url, arg.Secret, arg.Topics, arg.Active)
	return scanEndpoint(row)
}

const updateWebhookEndpoint = `
UPDATE webhook_endpoints SET url = $2, topics = $3, active = $4, updated_at = now()
WHERE id = $1
RETURNING ` + endpointColumns

// UpdateWebhookEndpointParams are the inputs for UpdateWebhookEndpoint.
type UpdateWebhookEndpointParams struct {
	ID     pgtype.UUID
	Url    string
	Topics []string
	Active bool
}

func (q *Queries) UpdateWebhookEndpoint(ctx context.Context, arg UpdateWebhookEndpointParams) (WebhookEndpoint, error) {
	row := q.db.QueryRow(ctx, updateWebhookEndpoint, arg.ID, arg.Url, arg.Topics, arg.Active)
	return scanEndpoint(row)
}

const getWebhookEndpoint = `
SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1
`

func (q *Queries) GetWebhookEndpoint(ctx context.Context, id pgtype.UUID) (WebhookEndpoint, error) {
	return scanEndpoint(q.db.QueryRow(ctx, getWebhookEndpoint, id))
}

const listWebhookEndpoints = `
SELECT ` + endpointColumns + `
FROM webhook_endpoints ORDER BY created_at DESC LIMIT $1 OFFSET $2
`

// ListWebhookEndpointsParams are the inputs for ListWebhookEndpoints.
type ListWebhookEndpointsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListWebhookEndpoints(ctx context.Context, arg ListWebhookEndpointsParams) ([]WebhookEndpoint, error) {
	rows, err := q.db.Query(ctx, listWebhookEndpoints, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var eps []WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

const deleteWebhookEndpoint = `
DELETE FROM webhook_endpoints WHERE id = $1
`

func (q *Queries) DeleteWebhookEndpoint(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, deleteWebhookEndpoint, id)
	return err
}

const listActiveEndpointsForTopic = `
SELECT ` + endpointColumns + `
FROM webhook_endpoints WHERE active AND $1 = ANY(topics)
`

func (q *Queries) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]WebhookEndpoint, error) {
	rows, err := q.db.Query(ctx, listActiveEndpointsForTopic, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var eps []WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

const deliveryColumns = `id, endpoint_id, event_id, status, attempt, max_attempt,
next_attempt_at, response_status, response_body, last_error, created_at, updated_at`

const enqueueDelivery = `
INSERT INTO webhook_deliveries (endpoint_id, event_id, status, max_attempt, next_attempt_at)
VALUES ($1, $2, 'queued', $3, $4)
ON CONFLICT (endpoint_id, event_id) DO NOTHING
RETURNING ` + deliveryColumns

// EnqueueDeliveryParams are the inputs for EnqueueDelivery.
type EnqueueDeliveryParams struct {
	EndpointID    pgtype.UUID
	EventID       pgtype.UUID
	MaxAttempt    int32
	NextAttemptAt pgtype.Timestamptz
}

func (q *Queries) EnqueueDelivery(ctx context.Context, arg EnqueueDeliveryParams) (WebhookDelivery, error) {
	row := q.db.QueryRow(ctx, enqueueDelivery, arg.EndpointID, arg.EventID, arg.MaxAttempt, arg.NextAttemptAt)
	return scanDelivery(row)
}

const dequeueDueDeliveries = `
SELECT ` + deliveryColumns + `
FROM webhook_deliveries
WHERE status IN ('queued', 'failed') AND next_attempt_at <= now()
ORDER BY next_attempt_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`

func (q *Queries) DequeueDueDeliveries(ctx context.Context, limit int32) ([]WebhookDelivery, error) {
	rows, err := q.db.Query(ctx, dequeueDueDeliveries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ds []WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}

const markDelivering = `
UPDATE webhook_deliveries SET status = 'delivering', updated_at = now() WHERE id = $1
`

func (q *Queries) MarkDelivering(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markDelivering, id)
	return err
}

const markDelivered = `
UPDATE webhook_deliveries SET
	status = 'delivered', attempt = attempt + 1,
	response_status = $2, response_body = $3, last_error = NULL, updated_at = now()
WHERE id = $1
`

// MarkDeliveredParams are the inputs for MarkDelivered.
type MarkDeliveredParams struct {
	ID             pgtype.UUID
	ResponseStatus pgtype.Int4
	ResponseBody   pgtype.Text
}

func (q *Queries) MarkDelivered(ctx context.Context, arg MarkDeliveredParams) error {
	_, err := q.db.Exec(ctx, markDelivered, arg.ID, arg.ResponseStatus, arg.ResponseBody)
	return err
}

const markFailedWithBackoff = `
UPDATE webhook_deliveries SET
	status = 'failed', attempt = attempt + 1,
	next_attempt_at = $2, response_status = $3, last_error = $4, updated_at = now()
WHERE id = $1
`

// MarkFailedWithBackoffParams are the inputs for MarkFailedWithBackoff.
type MarkFailedWithBackoffParams struct {
	ID             pgtype.UUID
	NextAttemptAt  pgtype.Timestamptz
	ResponseStatus pgtype.Int4
	LastError      pgtype.Text
}

func (q *Queries) MarkFailedWithBackoff(ctx context.Context, arg MarkFailedWithBackoffParams) error {
	_, err := q.db.Exec(ctx, markFailedWithBackoff, arg.ID, arg.NextAttemptAt, arg.ResponseStatus, arg.LastError)
	return err
}

const moveToDLQ = `
UPDATE webhook_deliveries SET
	status = 'dlq', attempt = attempt + 1, last_error = $2, updated_at = now()
WHERE id = $1
`

// MoveToDLQParams are the inputs for MoveToDLQ.
type MoveToDLQParams struct {
	ID        pgtype.UUID
	LastError pgtype.Text
}

func (q *Queries) MoveToDLQ(ctx context.Context, arg MoveToDLQParams) error {
	_, err := q.db.Exec(ctx, moveToDLQ, arg.ID, arg.LastError)
	return err
}

const insertWebhookDlq = `
INSERT INTO webhook_dlq (delivery_id, reason)
VALUES ($1, $2)
RETURNING id, delivery_id, reason, created_at
`

// InsertWebhookDlqParams are the inputs for InsertWebhookDlq.
type InsertWebhookDlqParams struct {
	DeliveryID pgtype.UUID
	Reason     pgtype.Text
}

func (q *Queries) InsertWebhookDlq(ctx context.Context, arg InsertWebhookDlqParams) (WebhookDlq, error) {
	row := q.db.QueryRow(ctx, insertWebhookDlq, arg.DeliveryID, arg.Reason)
	var d WebhookDlq
	err := row.Scan(&d.ID, &d.DeliveryID, &d.Reason, &d.CreatedAt)
	return d, err
}

const getDeliveryByID = `
SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1
`

func (q *Queries) GetDeliveryByID(ctx context.Context, id pgtype.UUID) (WebhookDelivery, error) {
	return scanDelivery(q.db.QueryRow(ctx, getDeliveryByID, id))
}

const resetDeliveryForReplay = `
UPDATE webhook_deliveries SET
	status = 'queued', attempt = 0, next_attempt_at = now(),
	response_status = NULL, response_body = NULL, last_error = NULL, updated_at = now()
WHERE id = $1
RETURNING ` + deliveryColumns

func (q *Queries) ResetDeliveryForReplay(ctx context.Context, id pgtype.UUID) (WebhookDelivery, error) {
	return scanDelivery(q.db.QueryRow(ctx, resetDeliveryForReplay, id))
}

const deleteDlqByDelivery = `
DELETE FROM webhook_dlq WHERE delivery_id = $1
`

func (q *Queries) DeleteDlqByDelivery(ctx context.Context, deliveryID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, deleteDlqByDelivery, deliveryID)
	return err
}

const listWebhookDeliveries = `
SELECT d.id, d.endpoint_id, d.event_id, d.status, d.attempt, d.max_attempt,
	d.next_attempt_at, d.response_status, d.last_error, d.created_at, d.updated_at,
	e.topic
FROM webhook_deliveries d
JOIN domain_events e ON e.id = d.event_id
WHERE ($1::uuid IS NULL OR d.endpoint_id = $1)
  AND ($2::text IS NULL OR d.status = $2)
ORDER BY d.created_at DESC
LIMIT $3 OFFSET $4
`

// ListWebhookDeliveriesParams are the inputs for ListWebhookDeliveries.
type ListWebhookDeliveriesParams struct {
	EndpointID pgtype.UUID
	Status     pgtype.Text
	Limit      int32
	Offset     int32
}

// ListWebhookDeliveriesRow joins a delivery with its event topic.
type ListWebhookDeliveriesRow struct {
	ID             pgtype.UUID
	EndpointID     pgtype.UUID
	EventID        pgtype.UUID
	Status         DeliveryStatus
	Attempt        int32
	MaxAttempt     int32
	NextAttemptAt  pgtype.Timestamptz
	ResponseStatus pgtype.Int4
	LastError      pgtype.Text
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
	Topic          string
}

func (q *Queries) ListWebhookDeliveries(ctx context.Context, arg ListWebhookDeliveriesParams) ([]ListWebhookDeliveriesRow, error) {
	rows, err := q.db.Query(ctx, listWebhookDeliveries, arg.EndpointID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ListWebhookDeliveriesRow
	for rows.Next() {
		var r ListWebhookDeliveriesRow
		if err := rows.Scan(&r.ID, &r.EndpointID, &r.EventID, &r.Status, &r.Attempt, &r.MaxAttempt,
			&r.NextAttemptAt, &r.ResponseStatus, &r.LastError, &r.CreatedAt, &r.UpdatedAt, &r.Topic); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const countWebhookDeliveries = `
SELECT COUNT(*) FROM webhook_deliveries
WHERE ($1::uuid IS NULL OR endpoint_id = $1)
  AND ($2::text IS NULL OR status = $2)
`

// CountWebhookDeliveriesParams are the inputs for CountWebhookDeliveries.
type CountWebhookDeliveriesParams struct {
	EndpointID pgtype.UUID
	Status     pgtype.Text
}

func (q *Queries) CountWebhookDeliveries(ctx context.Context, arg CountWebhookDeliveriesParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countWebhookDeliveries, arg.EndpointID, arg.Status).Scan(&n)
	return n, err
}

func scanEndpoint(row interface{ Scan(...any) error }) (WebhookEndpoint, error) {
	var e WebhookEndpoint
	err := row.Scan(&e.ID, &e.Url, &e.Secret, &e.Topics, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func scanDelivery(row interface{ Scan(...any) error }) (WebhookDelivery, error) {
	var d WebhookDelivery
	err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempt, &d.MaxAttempt,
		&d.NextAttemptAt, &d.ResponseStatus, &d.ResponseBody, &d.LastError, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}
