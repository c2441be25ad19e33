package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-otel-demo/internal/catalog"
	"github.com/joao-fontenele/storefront-otel-demo/internal/checkout"
	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

// SQLSTATE codes that mean the product row could not be taken in time.
var busyCodes = map[pq.ErrorCode]bool{
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

type OrderRepository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewOrderRepository(db *sql.DB, lockTimeout time.Duration) *OrderRepository {
	return &OrderRepository{db: db, lockTimeout: lockTimeout}
}

// InTx runs fn in a READ COMMITTED transaction whose lock waits are capped at
// the repository lock timeout.
func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.OrderTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if r.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return classify(err)
		}
	}

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return classify(err)
	}

	return classify(tx.Commit())
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && busyCodes[pqErr.Code] {
		return fmt.Errorf("%w: %s (%s)", checkout.ErrBusy, pqErr.Message, pqErr.Code.Name())
	}
	return err
}

type orderTx struct {
	tx *sql.Tx
}

func (t *orderTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := catalog.ScanProduct(t.tx.QueryRowContext(ctx,
		`SELECT `+catalog.ProductColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (t *orderTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total_amount, customer_name, customer_phone,
			customer_email, delivery_city, delivery_address, comment, placed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, order.ID, order.UserID, order.Status, order.TotalAmount, order.CustomerName, order.CustomerPhone,
		order.CustomerEmail, order.DeliveryCity, order.DeliveryAddress, order.Comment, order.PlacedAt, order.CreatedAt)
	return err
}

func (t *orderTx) CreateOrderItem(ctx context.Context, item *domain.OrderItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, product_id, product_name, price, qty, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.OrderID, item.ProductID, item.ProductName, item.Price, item.Quantity, item.LineTotal)
	return err
}

func (t *orderTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty - $2, updated_at = NOW()
		WHERE id = $1 AND stock_qty >= $2
	`, productID, qty)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return checkout.ErrOutOfStock
	}

	return nil
}

const orderColumns = `id, user_id, status, total_amount, customer_name, customer_phone,
	customer_email, delivery_city, delivery_address, comment, placed_at, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	var userID, email, city, address, comment sql.NullString
	var placedAt sql.NullTime
	err := row.Scan(&o.ID, &userID, &o.Status, &o.TotalAmount, &o.CustomerName, &o.CustomerPhone,
		&email, &city, &address, &comment, &placedAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.UserID = nullString(userID)
	o.CustomerEmail = nullString(email)
	o.DeliveryCity = nullString(city)
	o.DeliveryAddress = nullString(address)
	o.Comment = comment.String
	if placedAt.Valid {
		o.PlacedAt = placedAt.Time
	}
	o.Items = []domain.OrderItem{}
	return &o, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func scanItem(row interface{ Scan(...any) error }) (domain.OrderItem, error) {
	var item domain.OrderItem
	var productID sql.NullString
	err := row.Scan(&item.ID, &item.OrderID, &productID, &item.ProductName, &item.Price, &item.Quantity, &item.LineTotal)
	item.ProductID = productID.String
	return item, err
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, price, qty, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, price, qty, line_total
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		order := orderMap[item.OrderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}
