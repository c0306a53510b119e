package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vexaro/backend-vpn/internal/common"
)

// AdminHandler exposes queue management endpoints for DLQ operations and metrics.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

type dlqItem struct {
	ID             uuid.UUID   `json:"id"`
	Kind           string      `json:"kind"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Attempts       int32       `json:"attempts"`
	LastError      *string     `json:"lastError,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Message        taskMessage `json:"message"`
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

// normalizeKind trims and sanitizes a user-supplied kind filter. An empty
// result means no filter.
func normalizeKind(raw string) string {
	kind := strings.TrimSpace(raw)
	if kind == "" {
		return ""
	}
	if sanitized := sanitizeKind(kind); sanitized != "" {
		return sanitized
	}
	return kind
}

// ListDLQ returns DLQ entries filtered by kind with pagination.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store unavailable", nil)
		return
	}
	ctx := r.Context()
	kind := normalizeKind(r.URL.Query().Get("kind"))
	limit, offset := parseListWindow(r, h.pageSize())

	entries, err := h.Store.ListQueueDlq(ctx, kind, limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		// Entries with undecodable payloads are skipped rather than failing
		// the whole listing; they remain visible through the total count.
		msg, err := decodeMessage(string(entry.Payload))
		if err != nil {
			continue
		}
		items = append(items, dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       int32(entry.Attempts),
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
			Message:        msg,
		})
	}

	resp := map[string]any{
		"data":  items,
		"total": total,
	}
	if kind != "" {
		resp["kind"] = kind
	}
	common.JSON(w, http.StatusOK, resp)
}

// ReplayDLQ re-enqueues DLQ entries either by explicit ID list or as a batch
// selected by kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	ids := uniqueStrings(req.IDs)
	kind := normalizeKind(req.Kind)
	if len(ids) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	var (
		replayed []uuid.UUID
		failed   map[string]string
		err      error
	)
	if len(ids) > 0 {
		replayed, failed = h.replayByID(ctx, ids)
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		replayed, failed, err = h.replayByKind(ctx, kind, limit)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
	}

	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) replayByID(ctx context.Context, ids []string) ([]uuid.UUID, map[string]string) {
	replayed := make([]uuid.UUID, 0, len(ids))
	failed := make(map[string]string)
	for _, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			failed[raw] = "invalid uuid"
			continue
		}
		entry, err := h.Store.GetQueueDlq(ctx, id)
		if err != nil {
			failed[raw] = err.Error()
			continue
		}
		if err := h.requeueEntry(ctx, entry); err != nil {
			failed[id.String()] = err.Error()
			continue
		}
		replayed = append(replayed, id)
	}
	return replayed, failed
}

func (h *AdminHandler) replayByKind(ctx context.Context, kind string, limit int) ([]uuid.UUID, map[string]string, error) {
	entries, err := h.Store.ListQueueDlq(ctx, kind, limit, 0)
	if err != nil {
		return nil, nil, err
	}
	replayed := make([]uuid.UUID, 0, len(entries))
	failed := make(map[string]string)
	for _, entry := range entries {
		if err := h.requeueEntry(ctx, entry); err != nil {
			failed[entry.ID.String()] = err.Error()
			continue
		}
		replayed = append(replayed, entry.ID)
	}
	return replayed, failed, nil
}

// Stats returns queue depth, processing and DLQ size for a given kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	kind := normalizeKind(r.URL.Query().Get("kind"))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	queueKey := h.Queue.queueKey(kind)
	worker := Worker{R: h.Queue.R, Prefix: h.Queue.Prefix}
	processingKey := worker.processingKey(kind)

	ready, err := h.Queue.R.ZCard(ctx, queueKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	inflight, err := h.Queue.R.ZCard(ctx, processingKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	dlq, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	var lagMillis int64
	if oldest, err := h.Queue.R.ZRangeWithScores(ctx, queueKey, 0, 0).Result(); err == nil && len(oldest) > 0 {
		ts := time.Unix(0, int64(oldest[0].Score))
		if ts.Before(time.Now()) {
			lagMillis = time.Since(ts).Milliseconds()
		}
	}

	h.updateDepthMetric(ctx, kind)
	h.updateDLQMetric(ctx, kind)

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 60 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              ready,
		"processing":         inflight,
		"dlq":                dlq,
		"oldest_lag_ms":      lagMillis,
		"visibility_timeout": visibility.Seconds(),
	})
}

// requeueEntry puts a dead task back on the queue and removes the DLQ row.
// The stored attempt counter is rolled back one step so the retry budget
// reflects the replay.
func (h *AdminHandler) requeueEntry(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	attempt := msg.Attempt
	if attempt > 0 {
		attempt--
	}
	task := Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        attempt,
	}
	if err := h.Queue.Enqueue(ctx, task); err != nil {
		return err
	}
	if err := h.Store.DeleteQueueDlq(ctx, entry.ID); err != nil {
		return err
	}
	h.updateDLQMetric(ctx, msg.Kind)
	h.updateDepthMetric(ctx, msg.Kind)
	return nil
}

func (h *AdminHandler) updateDLQMetric(ctx context.Context, kind string) {
	if QueueDLQSize == nil || h.Store == nil {
		return
	}
	count, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		return
	}
	QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(count))
}

// queueLabel maps an optional kind filter onto a metric label value.
func queueLabel(kind string) string {
	if kind == "" {
		return "all"
	}
	return kind
}

func (h *AdminHandler) updateDepthMetric(ctx context.Context, kind string) {
	if QueueDepth == nil || h.Queue.R == nil {
		return
	}
	depth, err := h.Queue.R.ZCard(ctx, h.Queue.queueKey(kind)).Result()
	if err != nil {
		return
	}
	QueueDepth.WithLabelValues(queueLabel(kind)).Set(float64(depth))
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func parseListWindow(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if limit <= 0 {
		limit = 50
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
