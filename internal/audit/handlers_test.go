package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vexaro/backend-vpn/internal/db"
)

type listStore struct {
	stubStore
	receivedLimit  int32
	receivedOffset int32
}

func (l *listStore) ListAuditLogs(_ context.Context, arg db.ListAuditLogsParams) ([]db.AuditLog, error) {
	l.receivedLimit = arg.Limit
	l.receivedOffset = arg.Offset
	return []db.AuditLog{{Action: "TEST", Method: "GET"}}, nil
}

func TestHandlerListForwardsPagination(t *testing.T) {
	store := &listStore{}
	h := Handler{Store: store}

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/audit?limit=25&offset=10", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.receivedLimit != 25 || store.receivedOffset != 10 {
		t.Fatalf("unexpected pagination params: limit=%d offset=%d", store.receivedLimit, store.receivedOffset)
	}

	var payload []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload) != 1 || payload[0]["action"] != "TEST" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}
