package notify

import (
	"context"
	"strings"
	"time"

	"github.com/vexaro/backend-vpn/internal/queue"
)

const webhookDeliveryTask = "webhook-delivery"

// EnqueueDelivery publishes a webhook delivery task for the worker. The
// delivery ID doubles as the idempotency key, so re-enqueueing the same
// delivery is a no-op while the original task is pending.
func (d Dispatcher) EnqueueDelivery(ctx context.Context, deliveryID string, delay time.Duration, maxAttempts int) error {
	if strings.TrimSpace(deliveryID) == "" || d.Queue.R == nil {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = d.DefaultMaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	return d.Queue.Enqueue(ctx, queue.Task{
		Kind:           webhookDeliveryTask,
		Payload:        []byte(deliveryID),
		IdempotencyKey: deliveryID,
		MaxAttempts:    maxAttempts,
		Delay:          delay,
	})
}

// WebhookDeliveryTask returns the queue kind used for webhook deliveries.
func WebhookDeliveryTask() string {
	return webhookDeliveryTask
}
