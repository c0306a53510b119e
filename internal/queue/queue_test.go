package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vexaro/backend-vpn/internal/queue"
)

func TestEnqueueDequeue(t *testing.T) {
	client := newQueueRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "webhook", Payload: []byte("payload"), IdempotencyKey: "1"}))

	processed := make(chan []byte, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "webhook",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task.Payload
			cancel()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case payload := <-processed:
		require.Equal(t, []byte("payload"), payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for payload")
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	client := newQueueRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "dedup", DedupTTL: time.Minute}
	ctx := context.Background()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "webhook", Payload: []byte("a"), IdempotencyKey: "same"}))
	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "webhook", Payload: []byte("b"), IdempotencyKey: "same"}))

	depth, err := client.ZCard(ctx, "dedup:queue:webhook").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestWorkerRetriesFailedTask(t *testing.T) {
	client := newQueueRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "retry"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "webhook", Payload: []byte("retry"), IdempotencyKey: "r1", MaxAttempts: 3}))

	var attempts atomic.Int32
	worker := queue.Worker{
		R:                 client,
		Prefix:            "retry",
		Kind:              "webhook",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		Handler: func(ctx context.Context, task queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("fail first")
			}
			cancel()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}
