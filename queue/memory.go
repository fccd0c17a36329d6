package queue

import (
	"context"
	"sync"
	"time"

	"ticket-inventory/utils"
)

type memoryItem struct {
	msg            Message
	readyAt        time.Time
	invisibleUntil time.Time
	dead           bool
	done           bool
}

// MemoryQueue mirrors the redis queue semantics in process memory:
// at-least-once delivery, per-message delay, visibility timeout,
// dedup window, and dead-lettering after MaxReceiveCount deliveries.
// Used by tests and local development.
type MemoryQueue struct {
	mu              sync.Mutex
	items           []*memoryItem
	dedup           map[string]time.Time
	maxReceiveCount int
	dedupWindow     time.Duration
	pollSleep       time.Duration
}

func NewMemoryQueue(maxReceiveCount int, dedupWindow time.Duration) *MemoryQueue {
	return &MemoryQueue{
		dedup:           make(map[string]time.Time),
		maxReceiveCount: maxReceiveCount,
		dedupWindow:     dedupWindow,
		pollSleep:       10 * time.Millisecond,
	}
}

func (q *MemoryQueue) Send(_ context.Context, body string, delaySeconds int, dedupKey string) error {
	if err := ValidateDelay(delaySeconds); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if dedupKey != "" {
		if until, ok := q.dedup[dedupKey]; ok && now.Before(until) {
			return nil
		}
		q.dedup[dedupKey] = now.Add(q.dedupWindow)
	}

	id, err := utils.NewID("msg")
	if err != nil {
		return err
	}
	q.items = append(q.items, &memoryItem{
		msg:     Message{ID: id, Body: body},
		readyAt: now.Add(time.Duration(delaySeconds) * time.Second),
	})
	return nil
}

func (q *MemoryQueue) Poll(ctx context.Context, maxMessages, waitSeconds, visibilityTimeoutSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		return nil, nil
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for {
		msgs := q.take(maxMessages, visibilityTimeoutSeconds)
		if len(msgs) > 0 {
			return msgs, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollSleep):
		}
	}
}

func (q *MemoryQueue) take(max, visibilitySeconds int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var out []Message
	for _, it := range q.items {
		if len(out) >= max {
			break
		}
		if it.done || it.dead || now.Before(it.readyAt) || now.Before(it.invisibleUntil) {
			continue
		}
		if it.msg.ReceiveCount >= q.maxReceiveCount {
			it.dead = true
			continue
		}
		it.msg.ReceiveCount++
		it.invisibleUntil = now.Add(time.Duration(visibilitySeconds) * time.Second)
		out = append(out, it.msg)
	}
	return out
}

func (q *MemoryQueue) Delete(_ context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.msg.ID == messageID {
			it.done = true
			return nil
		}
	}
	return nil
}

// DeadLetters returns the message ids diverted after exceeding the
// receive budget.
func (q *MemoryQueue) DeadLetters() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, it := range q.items {
		if it.dead {
			out = append(out, it.msg.ID)
		}
	}
	return out
}
