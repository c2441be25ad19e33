package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

const defaultEmailTries = 4

// NotificationHandler sends the buyer an order confirmation for every placed
// order that carries an email address.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
	maxTries        uint
	initialInterval time.Duration
}

type Option func(*NotificationHandler)

// WithRetry overrides how many times an email send is attempted and the first
// delay between attempts.
func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(h *NotificationHandler) {
		h.maxTries = maxTries
		h.initialInterval = initialInterval
	}
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger, opts ...Option) *NotificationHandler {
	h := &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
		maxTries:        defaultEmailTries,
		initialInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order placed event: %w", err)
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "product_id", event.ProductID)

	if event.CustomerEmail == "" {
		h.logger.Info("buyer left no email, skipping confirmation", "order_id", event.OrderID)
		return nil
	}

	if err := h.sendConfirmationEmail(ctx, event); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("order confirmation sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) sendConfirmationEmail(ctx context.Context, event domain.OrderPlacedEvent) error {
	req := emailRequest{
		To:      event.CustomerEmail,
		Subject: "Order Confirmation: " + event.OrderID,
		Body: fmt.Sprintf("Hello %s, your order %s for %d x %s totalling %s has been received. We will call you at %s.",
			event.CustomerName, event.OrderID, event.Quantity, event.ProductName,
			event.TotalAmount.StringFixed(2), event.CustomerPhone),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := h.sendEmail(ctx, req)
		if err != nil {
			h.logger.Warn("email send attempt failed", "error", err, "attempt", attempt, "order_id", event.OrderID)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(h.maxTries))
	return err
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body emailRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("email service rejected request with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}
}
