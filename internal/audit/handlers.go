package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store Store
}

type logEntry struct {
	ID           string     `json:"id"`
	ActorKind    string     `json:"actorKind"`
	ActorUserID  *string    `json:"actorUserId,omitempty"`
	Action       string     `json:"action"`
	ResourceType string     `json:"resourceType"`
	ResourceID   *string    `json:"resourceId,omitempty"`
	Method       string     `json:"method"`
	Path         string     `json:"path"`
	Route        *string    `json:"route,omitempty"`
	Status       int32      `json:"status"`
	IP           *string    `json:"ip,omitempty"`
	RequestID    *string    `json:"requestId,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}

// List returns a paginated list of audit logs for administrators.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	limit := common.AtoiDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := common.AtoiDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	rows, err := h.Store.ListAuditLogs(r.Context(), db.ListAuditLogsParams{Limit: int32(limit), Offset: int32(offset)})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	entries := make([]logEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, convertLog(row))
	}
	common.JSON(w, http.StatusOK, entries)
}

func convertLog(row db.AuditLog) logEntry {
	entry := logEntry{
		ActorKind:    row.ActorKind,
		Action:       row.Action,
		ResourceType: row.ResourceType,
		Method:       row.Method,
		Path:         row.Path,
		Status:       row.Status,
	}
	if row.ID.Valid {
		entry.ID = uuid.UUID(row.ID.Bytes).String()
	}
	if row.ActorUserID.Valid {
		id := uuid.UUID(row.ActorUserID.Bytes).String()
		entry.ActorUserID = &id
	}
	if row.ResourceID.Valid {
		entry.ResourceID = &row.ResourceID.String
	}
	if row.Route.Valid {
		entry.Route = &row.Route.String
	}
	if row.IP.Valid {
		entry.IP = &row.IP.String
	}
	if row.RequestID.Valid {
		entry.RequestID = &row.RequestID.String
	}
	if row.CreatedAt.Valid {
		t := row.CreatedAt.Time
		entry.CreatedAt = &t
	}
	return entry
}
