package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore emulates the products/orders tables. Each product row has its own
// mutex standing in for the row lock taken by SELECT ... FOR UPDATE; writes
// made inside a transaction are buffered and applied on commit, before the
// row lock is released.
type memStore struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	rowLocks map[string]*sync.Mutex
	orders   []domain.Order
	items    []domain.OrderItem

	getCalls  atomic.Int32
	lockCalls atomic.Int32
	txCalls   atomic.Int32

	// lockErrs is consumed one entry per LockProduct call.
	lockErrs  []error
	itemErr   error
	afterLock func(id string)
}

func newMemStore(products ...domain.Product) *memStore {
	s := &memStore{
		products: make(map[string]*domain.Product),
		rowLocks: make(map[string]*sync.Mutex),
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
		s.rowLocks[p.ID] = &sync.Mutex{}
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Product, error) {
	s.getCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	s.txCalls.Add(1)
	tx := &memTx{store: s}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, tx.orders...)
	s.items = append(s.items, tx.items...)
	for id, qty := range tx.decrements {
		s.products[id].StockQty -= qty
	}
	return nil
}

func (s *memStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].StockQty
}

func (s *memStore) setActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id].IsActive = active
}

func (s *memStore) counts() (orders, items int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.items)
}

func (s *memStore) nextLockErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lockErrs) == 0 {
		return nil
	}
	err := s.lockErrs[0]
	s.lockErrs = s.lockErrs[1:]
	return err
}

type memTx struct {
	store      *memStore
	held       []*sync.Mutex
	orders     []domain.Order
	items      []domain.OrderItem
	decrements map[string]int
}

func (tx *memTx) LockProduct(_ context.Context, id string) (*domain.Product, error) {
	s := tx.store
	s.lockCalls.Add(1)
	if err := s.nextLockErr(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	rowLock, ok := s.rowLocks[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	rowLock.Lock()
	tx.held = append(tx.held, rowLock)
	if s.afterLock != nil {
		s.afterLock(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.products[id]
	return &cp, nil
}

func (tx *memTx) CreateOrder(_ context.Context, order *domain.Order) error {
	cp := *order
	cp.Items = nil
	tx.orders = append(tx.orders, cp)
	return nil
}

func (tx *memTx) CreateOrderItem(_ context.Context, item *domain.OrderItem) error {
	if tx.store.itemErr != nil {
		return tx.store.itemErr
	}
	tx.items = append(tx.items, *item)
	return nil
}

func (tx *memTx) DecrementStock(_ context.Context, productID string, qty int) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.products[productID].StockQty < qty {
		return ErrOutOfStock
	}
	if tx.decrements == nil {
		tx.decrements = make(map[string]int)
	}
	tx.decrements[productID] += qty
	return nil
}

func (tx *memTx) release() {
	for _, m := range tx.held {
		m.Unlock()
	}
	tx.held = nil
}

func testProduct(stock int) domain.Product {
	return domain.Product{
		ID:       uuid.NewString(),
		Slug:     "iphone-15",
		Name:     "iPhone 15",
		Price:    decimal.RequireFromString("99990.00"),
		StockQty: stock,
		IsActive: true,
	}
}

var ivan = Buyer{Name: "Ivan", Phone: "+70000000000"}

func newTestService(store *memStore, opts Options) *Service {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
	}
	return NewService(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func TestPlaceQuickOrder(t *testing.T) {
	t.Run("decrements stock and snapshots the product", func(t *testing.T) {
		product := testProduct(5)
		store := newMemStore(product)
		placedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		svc := newTestService(store, Options{Clock: func() time.Time { return placedAt }})

		order, err := svc.PlaceQuickOrder(context.Background(), product.ID, Buyer{
			Name:  "  Ivan ",
			Phone: "+70000000000",
			Email: "ivan@example.com",
		})
		require.NoError(t, err)

		assert.Equal(t, 4, store.stock(product.ID))
		orders, items := store.counts()
		assert.Equal(t, 1, orders)
		assert.Equal(t, 1, items)

		assert.NotEmpty(t, order.ID)
		assert.Equal(t, domain.OrderStatusNew, order.Status)
		assert.Equal(t, "Ivan", order.CustomerName)
		require.NotNil(t, order.CustomerEmail)
		assert.Equal(t, "ivan@example.com", *order.CustomerEmail)
		assert.Nil(t, order.UserID)
		assert.Nil(t, order.DeliveryCity)
		assert.Nil(t, order.DeliveryAddress)
		assert.Equal(t, domain.QuickOrderComment, order.Comment)
		assert.Equal(t, placedAt, order.PlacedAt)
		assert.True(t, order.TotalAmount.Equal(product.Price))

		require.Len(t, order.Items, 1)
		item := order.Items[0]
		assert.Equal(t, order.ID, item.OrderID)
		assert.Equal(t, product.ID, item.ProductID)
		assert.Equal(t, product.Name, item.ProductName)
		assert.Equal(t, 1, item.Quantity)
		assert.True(t, item.Price.Equal(product.Price))
		assert.True(t, item.LineTotal.Equal(product.Price))
	})

	t.Run("omits empty email", func(t *testing.T) {
		product := testProduct(1)
		store := newMemStore(product)
		svc := newTestService(store, Options{})

		order, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.NoError(t, err)
		assert.Nil(t, order.CustomerEmail)
	})

	t.Run("out of stock leaves no rows", func(t *testing.T) {
		product := testProduct(0)
		store := newMemStore(product)
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.ErrorIs(t, err, ErrOutOfStock)

		assert.Equal(t, 0, store.stock(product.ID))
		orders, items := store.counts()
		assert.Zero(t, orders)
		assert.Zero(t, items)
	})

	t.Run("unknown product", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(context.Background(), uuid.NewString(), ivan)
		require.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, store.txCalls.Load())
	})

	t.Run("malformed product id never reaches the store", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(context.Background(), "not-a-uuid", ivan)
		require.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, store.getCalls.Load())
	})

	t.Run("product deactivated between read and lock", func(t *testing.T) {
		product := testProduct(3)
		store := newMemStore(product)
		store.afterLock = func(id string) { store.setActive(id, false) }
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.ErrorIs(t, err, ErrProductUnavailable)
		assert.Equal(t, 3, store.stock(product.ID))
	})

	t.Run("item insert failure rolls back", func(t *testing.T) {
		product := testProduct(2)
		store := newMemStore(product)
		store.itemErr = errors.New("disk full")
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBusy)

		assert.Equal(t, 2, store.stock(product.ID))
		orders, items := store.counts()
		assert.Zero(t, orders)
		assert.Zero(t, items)
	})

	t.Run("sequential purchases create distinct orders", func(t *testing.T) {
		product := testProduct(2)
		store := newMemStore(product)
		svc := newTestService(store, Options{})

		first, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.NoError(t, err)
		second, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 0, store.stock(product.ID))
	})

	t.Run("caller cancellation does not abort a started transaction", func(t *testing.T) {
		product := testProduct(1)
		store := newMemStore(product)
		ctx, cancel := context.WithCancel(context.Background())
		store.afterLock = func(string) { cancel() }
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(ctx, product.ID, ivan)
		require.NoError(t, err)
		assert.Equal(t, 0, store.stock(product.ID))
	})
}

func TestPlaceQuickOrderBusy(t *testing.T) {
	t.Run("retries until the lock is acquired", func(t *testing.T) {
		product := testProduct(1)
		store := newMemStore(product)
		store.lockErrs = []error{ErrBusy, ErrBusy}
		svc := newTestService(store, Options{BusyRetries: 3})

		_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.NoError(t, err)
		assert.EqualValues(t, 3, store.lockCalls.Load())
		assert.Equal(t, 0, store.stock(product.ID))
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		product := testProduct(1)
		store := newMemStore(product)
		store.lockErrs = []error{ErrBusy, ErrBusy, ErrBusy, ErrBusy}
		svc := newTestService(store, Options{BusyRetries: 2})

		_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.ErrorIs(t, err, ErrBusy)
		assert.EqualValues(t, 3, store.lockCalls.Load())
		assert.Equal(t, 1, store.stock(product.ID))
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		product := testProduct(0)
		store := newMemStore(product)
		svc := newTestService(store, Options{BusyRetries: 3})

		_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.ErrorIs(t, err, ErrOutOfStock)
		assert.EqualValues(t, 1, store.txCalls.Load())
	})

	t.Run("transaction deadline maps to busy", func(t *testing.T) {
		product := testProduct(1)
		store := newMemStore(product)
		store.afterLock = func(string) { time.Sleep(30 * time.Millisecond) }
		svc := NewService(store, slowTx{store}, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
			TxTimeout:      10 * time.Millisecond,
			InitialBackoff: time.Millisecond,
		})

		_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
		require.ErrorIs(t, err, ErrBusy)
		assert.Equal(t, 1, store.stock(product.ID))
	})
}

// slowTx fails the transaction with the context error once its deadline has
// passed, the way database/sql does on commit.
type slowTx struct {
	store *memStore
}

func (s slowTx) InTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	tx := &memTx{store: s.store}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func TestPlaceQuickOrderConcurrent(t *testing.T) {
	t.Run("two buyers for the last unit", func(t *testing.T) {
		product := testProduct(1)
		store := newMemStore(product)
		svc := newTestService(store, Options{})

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
			}()
		}
		wg.Wait()

		var ok, outOfStock int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrOutOfStock):
				outOfStock++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, outOfStock)
		assert.Equal(t, 0, store.stock(product.ID))
	})

	t.Run("never oversells", func(t *testing.T) {
		const buyers, stock = 50, 20
		product := testProduct(stock)
		store := newMemStore(product)
		svc := newTestService(store, Options{})

		var placed, rejected atomic.Int32
		var wg sync.WaitGroup
		for range buyers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.PlaceQuickOrder(context.Background(), product.ID, ivan)
				if err == nil {
					placed.Add(1)
					return
				}
				if errors.Is(err, ErrOutOfStock) {
					rejected.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, stock, placed.Load())
		assert.EqualValues(t, buyers-stock, rejected.Load())
		assert.Equal(t, 0, store.stock(product.ID))
		orders, items := store.counts()
		assert.Equal(t, stock, orders)
		assert.Equal(t, stock, items)
	})
}

func TestQuickOrderScenarios(t *testing.T) {
	product := testProduct(1)
	store := newMemStore(product)
	svc := newTestService(store, Options{})
	ctx := context.Background()

	t.Run("last unit sells", func(t *testing.T) {
		order, err := svc.PlaceQuickOrder(ctx, product.ID, ivan)
		require.NoError(t, err)
		assert.Equal(t, "99990.00", order.TotalAmount.StringFixed(2))
		assert.Equal(t, 0, store.stock(product.ID))
	})

	t.Run("repeat purchase is out of stock", func(t *testing.T) {
		_, err := svc.PlaceQuickOrder(ctx, product.ID, ivan)
		require.ErrorIs(t, err, ErrOutOfStock)
		assert.Equal(t, 0, store.stock(product.ID))
		orders, items := store.counts()
		assert.Equal(t, 1, orders)
		assert.Equal(t, 1, items)
	})

	t.Run("inactive product takes no lock", func(t *testing.T) {
		inactive := testProduct(10)
		inactive.IsActive = false
		store := newMemStore(inactive)
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(ctx, inactive.ID, ivan)
		require.ErrorIs(t, err, ErrProductUnavailable)
		assert.Zero(t, store.txCalls.Load())
		assert.Zero(t, store.lockCalls.Load())
		assert.Equal(t, 10, store.stock(inactive.ID))
	})

	t.Run("empty phone fails before any store access", func(t *testing.T) {
		store := newMemStore(testProduct(1))
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(ctx, product.ID, Buyer{Name: "Ivan"})
		require.ErrorIs(t, err, ErrValidationFailed)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "is required", verr.Fields["customer_phone"])
		assert.Zero(t, store.getCalls.Load())
		assert.Zero(t, store.txCalls.Load())
	})
	t.Run("control characters fail before any store access", func(t *testing.T) {
		store := newMemStore(testProduct(1))
		svc := newTestService(store, Options{})

		_, err := svc.PlaceQuickOrder(ctx, product.ID, Buyer{
			Name:  "Iv\x00an",
			Phone: "+7000\x000000",
			Email: "ivan\x07@example.com",
		})
		require.ErrorIs(t, err, ErrValidationFailed)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "must not contain control characters", verr.Fields["customer_name"])
		assert.Equal(t, "must not contain control characters", verr.Fields["customer_phone"])
		assert.Contains(t, verr.Fields, "customer_email")
		assert.Zero(t, store.getCalls.Load())
		assert.Zero(t, store.txCalls.Load())
	})
}
