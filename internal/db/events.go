package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertDomainEvent = `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at
`

// InsertDomainEventParams are the inputs for InsertDomainEvent.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
}

func (q *Queries) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	row := q.db.QueryRow(ctx, insertDomainEvent, arg.Topic, arg.AggregateID, arg.Payload)
	return scanDomainEvent(row)
}

const getDomainEvent = `
SELECT id, topic, aggregate_id, payload, occurred_at FROM domain_events WHERE id = $1
`

func (q *Queries) GetDomainEvent(ctx context.Context, id pgtype.UUID) (DomainEvent, error) {
	return scanDomainEvent(q.db.QueryRow(ctx, getDomainEvent, id))
}

func scanDomainEvent(row interface{ Scan(...any) error }) (DomainEvent, error) {
	var e DomainEvent
	err := row.Scan(&e.ID, &e.Topic, &e.AggregateID, &e.Payload, &e.OccurredAt)
	return e, err
}
