package notify

import (
	"fmt"
	"log"

	pubnub "github.com/pubnub/go"

	"ticket-inventory/config"
	"ticket-inventory/models"
)

// Notifier publishes order outcomes to the customer's channel. A nil
// Notifier is valid and drops everything, so callers never have to
// branch on whether PubNub is configured.
type Notifier struct {
	pubnub *pubnub.PubNub
}

// NewNotifier builds a Notifier from config. Returns nil when no
// publish key is set.
func NewNotifier(cfg *config.Config) *Notifier {
	if cfg.PubNubPublishKey == "" {
		return nil
	}
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey
	return &Notifier{pubnub: pubnub.NewPubNub(pnConfig)}
}

func (n *Notifier) OrderConfirmed(order *models.Order) {
	if n == nil {
		return
	}
	n.publish(order.CustomerID, map[string]any{
		"type":     "order_confirmed",
		"order_id": order.ID,
		"event_id": order.EventID,
		"tickets":  order.TotalTickets,
	})
}

func (n *Notifier) OrderFailed(order *models.Order, reason string) {
	if n == nil {
		return
	}
	n.publish(order.CustomerID, map[string]any{
		"type":     "order_failed",
		"order_id": order.ID,
		"event_id": order.EventID,
		"reason":   reason,
	})
}

func (n *Notifier) publish(customerID string, message map[string]any) {
	channel := fmt.Sprintf("user-%s", customerID)
	_, status, err := n.pubnub.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		log.Printf("notify: publish to %s failed (status %d): %v", channel, status.StatusCode, err)
	}
}
