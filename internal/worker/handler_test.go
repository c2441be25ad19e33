package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventPayload(t *testing.T, email string) []byte {
	t.Helper()
	data, err := json.Marshal(domain.OrderPlacedEvent{
		OrderID:       "order-1",
		ProductID:     "product-1",
		ProductName:   "iPhone 15",
		Quantity:      1,
		TotalAmount:   decimal.RequireFromString("99990.00"),
		CustomerName:  "Ivan",
		CustomerPhone: "+70000000000",
		CustomerEmail: email,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestNotificationHandler_Handle(t *testing.T) {
	t.Run("sends confirmation to buyer", func(t *testing.T) {
		var got emailRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/send" {
				t.Errorf("expected /send, got %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode body: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		handler := NewNotificationHandler(server.URL, server.Client(), discardLogger())

		if err := handler.Handle(context.Background(), eventPayload(t, "ivan@example.com")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.To != "ivan@example.com" {
			t.Errorf("expected recipient ivan@example.com, got %s", got.To)
		}
		if !strings.Contains(got.Subject, "order-1") {
			t.Errorf("expected subject to mention order, got %s", got.Subject)
		}
		if !strings.Contains(got.Body, "99990.00") {
			t.Errorf("expected body to include total, got %s", got.Body)
		}
	})

	t.Run("skips orders without email", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		handler := NewNotificationHandler(server.URL, server.Client(), discardLogger())

		if err := handler.Handle(context.Background(), eventPayload(t, "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls.Load() != 0 {
			t.Errorf("expected no email calls, got %d", calls.Load())
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		handler := NewNotificationHandler(server.URL, server.Client(), discardLogger(), WithRetry(5, time.Millisecond))

		if err := handler.Handle(context.Background(), eventPayload(t, "ivan@example.com")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", calls.Load())
		}
	})

	t.Run("does not retry rejected requests", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		handler := NewNotificationHandler(server.URL, server.Client(), discardLogger(), WithRetry(5, time.Millisecond))

		if err := handler.Handle(context.Background(), eventPayload(t, "ivan@example.com")); err == nil {
			t.Fatal("expected error for rejected email")
		}
		if calls.Load() != 1 {
			t.Errorf("expected a single attempt, got %d", calls.Load())
		}
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		var logs bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&logs, nil))
		handler := NewNotificationHandler(server.URL, server.Client(), logger, WithRetry(2, time.Millisecond))

		if err := handler.Handle(context.Background(), eventPayload(t, "ivan@example.com")); err == nil {
			t.Fatal("expected error after exhausting retries")
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 attempts, got %d", calls.Load())
		}
		// The consumer logs the returned error.
		if strings.Contains(logs.String(), `"level":"ERROR"`) {
			t.Errorf("expected no error log from handler, got %s", logs.String())
		}
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		handler := NewNotificationHandler("http://unused", http.DefaultClient, discardLogger())

		if err := handler.Handle(context.Background(), []byte("{")); err == nil {
			t.Fatal("expected error for malformed payload")
		}
	})
}
