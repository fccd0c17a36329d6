package services

import (
	"context"
	"encoding/json"
	"strconv"

	"ticket-inventory/internal/status"
	"ticket-inventory/queue"
)

// orderJob is the queue payload for one order-processing delivery.
type orderJob struct {
	OrderID string `json:"order_id"`
	Attempt int    `json:"attempt"`
}

// OrderDispatcher enqueues order-processing jobs. It enforces the
// queue's delay bound regardless of backend, so a misconfigured retry
// policy fails fast instead of being silently clamped by the
// transport.
type OrderDispatcher struct {
	queue queue.Queue
}

func NewOrderDispatcher(q queue.Queue) *OrderDispatcher {
	return &OrderDispatcher{queue: q}
}

// Dispatch enqueues a processing job for orderID. attempt scopes the
// dedup key: duplicate sends of the same delivery attempt collapse,
// while retry dispatches are never swallowed by the initial send's
// dedup window.
func (d *OrderDispatcher) Dispatch(ctx context.Context, orderID string, attempt, delaySeconds int) error {
	if orderID == "" {
		return status.Validation("order id is required")
	}
	if err := queue.ValidateDelay(delaySeconds); err != nil {
		return err
	}

	body, err := json.Marshal(orderJob{OrderID: orderID, Attempt: attempt})
	if err != nil {
		return err
	}

	dedup := orderID
	if attempt > 0 {
		dedup = orderID + "#" + strconv.Itoa(attempt)
	}
	return d.queue.Send(ctx, string(body), delaySeconds, dedup)
}
