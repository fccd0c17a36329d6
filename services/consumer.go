package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"ticket-inventory/config"
	"ticket-inventory/internal/status"
	"ticket-inventory/monitoring"
	"ticket-inventory/queue"
)

// Consumer pulls order jobs off the queue and drives them through
// OrderService.Process with bounded concurrency. Messages are deleted
// only after a processing attempt that must not be redelivered:
// success, a business rejection, or an unparseable body. Transient
// failures leave the message invisible until the visibility timeout
// returns it.
type Consumer struct {
	queue  queue.Queue
	orders *OrderService
	cfg    *config.Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewConsumer(q queue.Queue, orders *OrderService, cfg *config.Config) *Consumer {
	return &Consumer{
		queue:  q,
		orders: orders,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches the poll loop. Call Stop to drain in-flight jobs.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the loop to exit and waits for in-flight jobs.
func (c *Consumer) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	slots := make(chan struct{}, c.cfg.ConsumerConcurrency)
	for i := 0; i < c.cfg.ConsumerConcurrency; i++ {
		slots <- struct{}{}
	}

	var jobs sync.WaitGroup
	defer jobs.Wait()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Only ask for as many messages as there are free workers.
		free := len(slots)
		if free == 0 {
			free = 1
		}
		msgs, err := c.queue.Poll(ctx, free, c.cfg.PollWaitSeconds, c.cfg.VisibilitySeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("consumer: poll failed: %v", err)
			continue
		}

		for _, msg := range msgs {
			select {
			case <-slots:
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
			jobs.Add(1)
			go func(m queue.Message) {
				defer jobs.Done()
				defer func() { slots <- struct{}{} }()
				c.handle(ctx, m)
			}(msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) {
	monitoring.ConsumerJobStarted()
	defer monitoring.ConsumerJobFinished()

	var job orderJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil || job.OrderID == "" {
		// Poison message, redelivery cannot help.
		log.Printf("consumer: dropping malformed message %s: %v", msg.ID, err)
		c.ack(ctx, msg.ID)
		return
	}

	if _, err := c.orders.Process(ctx, job.OrderID); err != nil {
		if retriable(err) {
			// Leave the message in flight; the visibility timeout
			// returns it, and the receive cap dead-letters repeat
			// offenders.
			log.Printf("consumer: order %s attempt %d failed, leaving for redelivery (receive %d): %v",
				job.OrderID, job.Attempt, msg.ReceiveCount, err)
			return
		}
		log.Printf("consumer: order %s rejected: %v", job.OrderID, err)
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, messageID string) {
	if err := c.queue.Delete(ctx, messageID); err != nil {
		log.Printf("consumer: delete of message %s failed: %v", messageID, err)
	}
}

// retriable reports whether redelivering the job could succeed.
// Validation errors and missing orders are final; everything else
// (store outages, contention budgets, gateway trouble surfaced as
// plain errors) gets another delivery.
func retriable(err error) bool {
	switch status.KindOf(err) {
	case status.KindNotFound, status.KindValidation, status.KindInvalidStateTransition:
		return false
	}
	return true
}
