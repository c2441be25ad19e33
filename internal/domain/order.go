package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// QuickOrderComment marks orders placed through the single-item checkout.
const QuickOrderComment = "quick order"

// OrderItem is a line of an order. ProductName and Price are copied from the
// product when the order is placed and never follow later catalog changes.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"qty"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          *string         `json:"user_id,omitempty"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone"`
	CustomerEmail   *string         `json:"customer_email,omitempty"`
	DeliveryCity    *string         `json:"delivery_city,omitempty"`
	DeliveryAddress *string         `json:"delivery_address,omitempty"`
	Comment         string          `json:"comment"`
	Items           []OrderItem     `json:"items"`
	PlacedAt        time.Time       `json:"placed_at"`
	CreatedAt       time.Time       `json:"created_at"`
}
