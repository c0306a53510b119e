package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vexaro/backend-vpn/internal/lock"
)

// DeliveryWorker executes webhook deliveries under a per-delivery distributed
// lock, so concurrent workers never send the same delivery twice.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	LockTTL    time.Duration
}

// Handle executes the delivery whose ID is carried in payload. An empty
// payload is dropped silently.
func (w DeliveryWorker) Handle(ctx context.Context, payload []byte) error {
	if w.Dispatcher == nil {
		return errors.New("webhook worker: dispatcher not configured")
	}
	deliveryID := strings.TrimSpace(string(payload))
	if deliveryID == "" {
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "lock:delivery:"+deliveryID, ttl, func(ctx context.Context) error {
		return w.Dispatcher.DeliverByID(ctx, deliveryID)
	})
}
