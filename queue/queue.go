package queue

import (
	"context"

	"ticket-inventory/internal/status"
)

// MaxDelaySeconds is the longest supported per-message delay. Callers
// needing longer backoff must cap at this bound.
const MaxDelaySeconds = 900

// Message is one delivered unit of work. Delivery is at-least-once:
// a message not deleted before its visibility timeout lapses comes
// back, and after too many deliveries it is diverted to the
// dead-letter destination.
type Message struct {
	ID           string
	Body         string
	ReceiveCount int
}

// Queue is the at-least-once delivery channel the order coordinator
// depends on.
type Queue interface {
	// Send enqueues body, optionally delayed. A non-empty dedupKey
	// collapses duplicate sends within the dedup window.
	Send(ctx context.Context, body string, delaySeconds int, dedupKey string) error

	// Poll returns up to maxMessages, waiting up to waitSeconds for
	// the first one. Returned messages stay invisible for
	// visibilityTimeoutSeconds unless deleted.
	Poll(ctx context.Context, maxMessages, waitSeconds, visibilityTimeoutSeconds int) ([]Message, error)

	// Delete acknowledges a delivered message.
	Delete(ctx context.Context, messageID string) error
}

// ValidateDelay enforces the supported delay range shared by all
// queue backends.
func ValidateDelay(delaySeconds int) error {
	if delaySeconds < 0 || delaySeconds > MaxDelaySeconds {
		return status.Validation("delay %ds outside [0, %d]", delaySeconds, MaxDelaySeconds)
	}
	return nil
}
