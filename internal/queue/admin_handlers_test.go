package queue_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vexaro/backend-vpn/internal/queue"
)

func parkedEntry(t *testing.T) queue.DLQEntry {
	t.Helper()
	raw, err := json.Marshal(struct {
		Kind        string `json:"kind"`
		Key         string `json:"key"`
		Payload     []byte `json:"payload"`
		Attempt     int    `json:"attempt"`
		MaxAttempts int    `json:"max_attempts"`
		AvailableAt int64  `json:"available_at"`
	}{
		Kind:        "webhook",
		Key:         "dlq1",
		Payload:     []byte("payload"),
		Attempt:     2,
		MaxAttempts: 3,
		AvailableAt: time.Now().UnixNano(),
	})
	require.NoError(t, err)
	return queue.DLQEntry{
		Kind:           "webhook",
		IdempotencyKey: "dlq1",
		Payload:        raw,
		Attempts:       2,
		CreatedAt:      time.Now(),
	}
}

func TestDLQReplay(t *testing.T) {
	client := newQueueRedis(t)
	store := newMemoryStore()
	handler := queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		PageSize:          10,
		VisibilityTimeout: 60 * time.Second,
	}

	id, err := store.InsertQueueDlq(context.Background(), parkedEntry(t))
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"ids":["` + id.String() + `"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ReplayDLQ(rr, req)

	res := rr.Result()
	require.Equal(t, http.StatusOK, res.StatusCode)
	defer func() { _ = res.Body.Close() }()

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	require.Contains(t, resp.Replayed, id.String())
	require.Empty(t, resp.Failed)

	// The replayed task lands back on its queue and leaves the DLQ.
	depth, err := client.ZCard(context.Background(), "adm:queue:webhook").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	_, err = store.GetQueueDlq(context.Background(), id)
	require.ErrorIs(t, err, sql.ErrNoRows)
}
