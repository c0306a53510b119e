package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/obs"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindUser represents an authenticated end-user.
	ActorKindUser ActorKind = "user"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind   ActorKind
	UserID *string
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, arg db.InsertAuditLogParams) (db.AuditLog, error)
	ListAuditLogs(ctx context.Context, arg db.ListAuditLogsParams) ([]db.AuditLog, error)
}

// Service persists audit logs for critical application flows. SamplingRate
// between 0 and 1 drops a share of entries on high-volume routes.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an audit log entry when auditing is enabled.
func (s Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	if status == 0 {
		status = http.StatusOK
	}

	_, err := s.Store.InsertAuditLog(ctx, db.InsertAuditLogParams{
		ActorKind:    string(normalizeActorKind(actor.Kind)),
		ActorUserID:  toNullUUID(trimmedPtr(actor.UserID)),
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   toNullText(trimPtr(resourceID)),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        toNullText(trimPtr(route)),
		Status:       int32(status),
		IP:           toNullText(trimPtr(common.ClientIP(req))),
		UserAgent:    toNullText(trimPtr(req.Header.Get("User-Agent"))),
		RequestID:    toNullText(trimPtr(req.Header.Get("X-Request-ID"))),
		Metadata:     buildMetadata(metadata, req.URL.RawQuery),
	})
	return err
}

// buildAction falls back to "METHOD /route" when no explicit action is given.
func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

// buildResource derives a dotted resource name from the route when no
// explicit type is given: /api/v1/plans/{slug} becomes "plans.{slug}".
func buildResource(resourceType, route string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(route, "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	return strings.Join(segments, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

// trimPtr returns a pointer to the trimmed value, or nil when it is blank.
func trimPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return trimPtr(*value)
}

func toNullUUID(value *string) pgtype.UUID {
	if value == nil {
		return pgtype.UUID{}
	}
	parsed, err := uuid.Parse(*value)
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

func toNullText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}

// buildMetadata prefers the caller-supplied payload and otherwise captures
// the raw query string, which is often the only request detail worth keeping
// for list endpoints.
func buildMetadata(metadata []byte, query string) []byte {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
