package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-otel-demo/internal/checkout"
	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

const maxBuyBodyBytes = 1 << 16

type QuickOrderPlacer interface {
	PlaceQuickOrder(ctx context.Context, productID string, buyer checkout.Buyer) (*domain.Order, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Handler struct {
	checkout  QuickOrderPlacer
	repo      OrderReader
	publisher EventPublisher
	logger    *slog.Logger
}

// NewHandler wires the orders HTTP surface. publisher may be nil, in which
// case no events are emitted.
func NewHandler(placer QuickOrderPlacer, repo OrderReader, publisher EventPublisher, logger *slog.Logger) *Handler {
	return &Handler{
		checkout:  placer,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

type buyResponse struct {
	Message string        `json:"message"`
	Order   *domain.Order `json:"order"`
}

type validationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func (h *Handler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	var buyer checkout.Buyer
	r.Body = http.MaxBytesReader(w, r.Body, maxBuyBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&buyer); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.checkout.PlaceQuickOrder(r.Context(), productID, buyer)
	if err != nil {
		h.writeCheckoutError(w, productID, err)
		return
	}

	if h.publisher != nil {
		// The order is already committed.
		ctx := context.WithoutCancel(r.Context())
		if err := h.publisher.Publish(ctx, order.ID, domain.NewOrderPlacedEvent(order)); err != nil {
			h.logger.Error("failed to publish order placed event", "error", err, "order_id", order.ID)
		}
	}

	h.logger.Info("quick order placed", "order_id", order.ID, "product_id", productID)
	h.writeJSON(w, http.StatusCreated, buyResponse{
		Message: "Order placed. We will contact you shortly.",
		Order:   order,
	})
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, productID string, err error) {
	var verr *checkout.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			Error:  "validation failed",
			Fields: verr.Fields,
		})
	case errors.Is(err, checkout.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, checkout.ErrProductUnavailable):
		h.writeError(w, http.StatusConflict, "product is not available for ordering")
	case errors.Is(err, checkout.ErrOutOfStock):
		h.writeError(w, http.StatusConflict, "product is out of stock")
	case errors.Is(err, checkout.ErrBusy):
		h.logger.Warn("checkout busy", "error", err, "product_id", productID)
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, "checkout is busy, try again")
	default:
		h.logger.Error("failed to place quick order", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
