package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
var ErrStoreUnavailable = errors.New("queue: store unavailable")

// Store provides database accessors for queue DLQ operations.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is one dead task. Payload holds the raw queue message so a replay
// can re-enqueue it verbatim.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

func scanDLQEntry(row interface{ Scan(...any) error }) (DLQEntry, error) {
	var entry DLQEntry
	var lastErr sql.NullString
	if err := row.Scan(&entry.ID, &entry.Kind, &entry.IdempotencyKey, &entry.Payload, &entry.Attempts, &lastErr, &entry.CreatedAt); err != nil {
		return DLQEntry{}, err
	}
	if lastErr.Valid {
		entry.LastError = &lastErr.String
	}
	return entry, nil
}

func (s *pgStore) ready() error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func (s *pgStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if err := s.ready(); err != nil {
		return uuid.Nil, err
	}
	var lastError any
	if entry.LastError != nil {
		lastError = *entry.LastError
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, lastError,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

func (s *pgStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if err := s.ready(); err != nil {
		return DLQEntry{}, err
	}
	return scanDLQEntry(s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM queue_dlq WHERE id = $1`, id))
}

func (s *pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + dlqColumns + ` FROM queue_dlq`
	args := []any{}
	if kind = strings.TrimSpace(kind); kind != "" {
		query += ` WHERE kind = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, kind, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]DLQEntry, 0, limit)
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var total int64
	if kind = strings.TrimSpace(kind); kind != "" {
		err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE kind = $1`, kind).Scan(&total)
		return total, err
	}
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq`).Scan(&total)
	return total, err
}

func (s *pgStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT kind, COUNT(*) FROM queue_dlq GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sizes := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		sizes[kind] = total
	}
	return sizes, rows.Err()
}
