package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// AuditLog records a single audited admin or system action.
type AuditLog struct {
	ID           pgtype.UUID
	ActorKind    string
	ActorUserID  pgtype.UUID
	Action       string
	ResourceType string
	ResourceID   pgtype.Text
	Method       string
	Path         string
	Route        pgtype.Text
	Status       int32
	IP           pgtype.Text
	UserAgent    pgtype.Text
	RequestID    pgtype.Text
	Metadata     []byte
	CreatedAt    pgtype.Timestamptz
}

const insertAuditLog = `
INSERT INTO audit_logs (actor_kind, actor_user_id, action, resource_type, resource_id,
                        method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id, actor_kind, actor_user_id, action, resource_type, resource_id,
          method, path, route, status, ip, user_agent, request_id, metadata, created_at
`

// InsertAuditLogParams are the inputs for InsertAuditLog.
type InsertAuditLogParams struct {
	ActorKind    string
	ActorUserID  pgtype.UUID
	Action       string
	ResourceType string
	ResourceID   pgtype.Text
	Method       string
	Path         string
	Route        pgtype.Text
	Status       int32
	IP           pgtype.Text
	UserAgent    pgtype.Text
	RequestID    pgtype.Text
	Metadata     []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error) {
	row := q.db.QueryRow(ctx, insertAuditLog,
		arg.ActorKind, arg.ActorUserID, arg.Action, arg.ResourceType, arg.ResourceID,
		arg.Method, arg.Path, arg.Route, arg.Status, arg.IP, arg.UserAgent, arg.RequestID, arg.Metadata)
	return scanAuditLog(row)
}

const listAuditLogs = `
SELECT id, actor_kind, actor_user_id, action, resource_type, resource_id,
       method, path, route, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

// ListAuditLogsParams are the inputs for ListAuditLogs.
type ListAuditLogsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListAuditLogs(ctx context.Context, arg ListAuditLogsParams) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, listAuditLogs, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []AuditLog
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func scanAuditLog(row interface{ Scan(...any) error }) (AuditLog, error) {
	var a AuditLog
	err := row.Scan(&a.ID, &a.ActorKind, &a.ActorUserID, &a.Action, &a.ResourceType, &a.ResourceID,
		&a.Method, &a.Path, &a.Route, &a.Status, &a.IP, &a.UserAgent, &a.RequestID, &a.Metadata, &a.CreatedAt)
	return a, err
}
