package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"ticket-inventory/config"
	"ticket-inventory/models"
	"ticket-inventory/store"
)

// AutoApprove confirms every order. Used in development and wherever
// no external gateway is configured.
func AutoApprove() Confirmer {
	return ConfirmerFunc(func(ctx context.Context, order *models.Order) error {
		return nil
	})
}

// GatewayConfirmer confirms orders against an external HTTP gateway.
// The charge amount is the sum of the order tickets' face values.
type GatewayConfirmer struct {
	baseURL string
	store   store.Store
	hc      *http.Client
}

func NewGatewayConfirmer(cfg *config.Config, st store.Store) *GatewayConfirmer {
	return &GatewayConfirmer{
		baseURL: cfg.ConfirmGatewayURL,
		store:   st,
		hc: &http.Client{
			Timeout: cfg.ConfirmTimeout,
		},
	}
}

type confirmRequest struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	EventID    string `json:"event_id"`
	Amount     string `json:"amount"`
	Tickets    int    `json:"tickets"`
}

type confirmResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (g *GatewayConfirmer) Confirm(ctx context.Context, order *models.Order) error {
	tickets, err := g.store.TicketsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	amount := decimal.Zero
	for _, t := range tickets {
		amount = amount.Add(t.FaceValue)
	}

	body, err := json.Marshal(confirmRequest{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		EventID:    order.EventID,
		Amount:     amount.StringFixed(2),
		Tickets:    order.TotalTickets,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/confirm", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("confirm gateway returned %d: %s", resp.StatusCode, raw)
	}

	var out confirmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("confirm gateway response: %w", err)
	}
	if !out.Approved {
		if out.Reason == "" {
			out.Reason = "declined by gateway"
		}
		return fmt.Errorf("confirmation declined: %s", out.Reason)
	}
	return nil
}
