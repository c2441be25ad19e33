package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderPlacedEvent struct {
	OrderID       string          `json:"order_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"qty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	PlacedAt      time.Time       `json:"placed_at"`
}

// NewOrderPlacedEvent builds the event for a freshly placed single-item order.
func NewOrderPlacedEvent(order *Order) OrderPlacedEvent {
	event := OrderPlacedEvent{
		OrderID:       order.ID,
		TotalAmount:   order.TotalAmount,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		PlacedAt:      order.PlacedAt,
	}
	if order.CustomerEmail != nil {
		event.CustomerEmail = *order.CustomerEmail
	}
	if len(order.Items) > 0 {
		event.ProductID = order.Items[0].ProductID
		event.ProductName = order.Items[0].ProductName
		event.Quantity = order.Items[0].Quantity
	}
	return event
}
