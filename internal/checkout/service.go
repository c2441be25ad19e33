package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

var tracer = otel.Tracer("checkout")

// quickOrderQty is the number of units a quick purchase buys.
const quickOrderQty = 1

// ProductReader is the catalog read path used for the pre-transaction checks.
// It returns (nil, nil) when the product does not exist.
type ProductReader interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

// TxRunner runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
}

// OrderTx is the set of writes a quick purchase performs atomically.
type OrderTx interface {
	// LockProduct re-reads the product under an exclusive row lock held until
	// the transaction ends. It returns (nil, nil) when the row is gone.
	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	CreateOrderItem(ctx context.Context, item *domain.OrderItem) error
	DecrementStock(ctx context.Context, productID string, qty int) error
}

type Options struct {
	// TxTimeout bounds a single placement transaction, lock wait included.
	TxTimeout time.Duration
	// BusyRetries is how many extra attempts are made after ErrBusy.
	BusyRetries int
	// InitialBackoff is the first delay between busy retries.
	InitialBackoff time.Duration
	Clock          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TxTimeout <= 0 {
		o.TxTimeout = 5 * time.Second
	}
	if o.BusyRetries < 0 {
		o.BusyRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 50 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type Service struct {
	products ProductReader
	orders   TxRunner
	validate *validator.Validate
	metrics  *metrics
	logger   *slog.Logger
	opts     Options
}

func NewService(products ProductReader, orders TxRunner, logger *slog.Logger, opts Options) *Service {
	return &Service{
		products: products,
		orders:   orders,
		validate: newValidator(),
		metrics:  newMetrics(),
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// PlaceQuickOrder buys one unit of the product for the buyer. The stock check,
// the order and line item inserts, and the stock decrement commit together or
// not at all, so concurrent buyers can never drive stock below zero.
func (s *Service) PlaceQuickOrder(ctx context.Context, productID string, buyer Buyer) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceQuickOrder",
		trace.WithAttributes(attribute.String("product.id", productID)),
	)
	defer span.End()

	order, err := s.placeQuickOrder(ctx, productID, buyer)
	if err != nil {
		s.metrics.recordRejected(ctx, err)
		span.SetAttributes(attribute.String("checkout.rejection", rejectionReason(err)))
		if rejectionReason(err) == "internal" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	s.metrics.recordPlaced(ctx, productID)
	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

func (s *Service) placeQuickOrder(ctx context.Context, productID string, buyer Buyer) (*domain.Order, error) {
	buyer = buyer.normalize()
	if err := validateBuyer(s.validate, buyer); err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(productID); err != nil {
		return nil, ErrNotFound
	}

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return nil, ErrNotFound
	}
	if !product.IsActive {
		return nil, ErrProductUnavailable
	}

	attempt := 0
	return backoff.Retry(ctx, func() (*domain.Order, error) {
		attempt++
		order, err := s.placeOnce(ctx, productID, buyer)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, backoff.Permanent(err)
		}
		s.logger.Warn("product row busy", "product_id", productID, "attempt", attempt, "error", err)
		return nil, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.opts.BusyRetries+1)),
	)
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.TxTimeout
	return b
}

// placeOnce runs one placement transaction. The transaction context is
// detached from the caller: once started it ends in commit or rollback, bounded
// only by TxTimeout.
func (s *Service) placeOnce(ctx context.Context, productID string, buyer Buyer) (*domain.Order, error) {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.TxTimeout)
	defer cancel()

	var order *domain.Order
	err := s.orders.InTx(txCtx, func(ctx context.Context, tx OrderTx) error {
		lockStart := time.Now()
		locked, err := tx.LockProduct(ctx, productID)
		s.metrics.recordLockWait(ctx, time.Since(lockStart))
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrNotFound
		}
		if !locked.IsActive {
			return ErrProductUnavailable
		}
		if locked.StockQty < quickOrderQty {
			return ErrOutOfStock
		}

		o := newQuickOrder(locked, buyer, s.opts.Clock().UTC())
		if err := tx.CreateOrder(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for i := range o.Items {
			if err := tx.CreateOrderItem(ctx, &o.Items[i]); err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}
		if err := tx.DecrementStock(ctx, locked.ID, quickOrderQty); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		order = o
		return nil
	})
	if err != nil {
		if errors.Is(txCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrBusy) && rejectionReason(err) == "internal" {
			return nil, fmt.Errorf("%w: transaction deadline exceeded: %v", ErrBusy, err)
		}
		return nil, err
	}

	return order, nil
}

// newQuickOrder builds a single-line order, copying name and price from the
// locked product by value.
func newQuickOrder(product *domain.Product, buyer Buyer, now time.Time) *domain.Order {
	orderID := uuid.NewString()
	lineTotal := product.Price.Mul(decimal.NewFromInt(quickOrderQty))

	order := &domain.Order{
		ID:            orderID,
		Status:        domain.OrderStatusNew,
		TotalAmount:   lineTotal,
		CustomerName:  buyer.Name,
		CustomerPhone: buyer.Phone,
		Comment:       domain.QuickOrderComment,
		PlacedAt:      now,
		CreatedAt:     now,
		Items: []domain.OrderItem{{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Price:       product.Price,
			Quantity:    quickOrderQty,
			LineTotal:   lineTotal,
		}},
	}
	if buyer.Email != "" {
		email := buyer.Email
		order.CustomerEmail = &email
	}
	return order
}
