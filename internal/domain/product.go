package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string              `json:"id"`
	Slug        string              `json:"slug"`
	Name        string              `json:"name"`
	Description *string             `json:"description,omitempty"`
	Price       decimal.Decimal     `json:"price"`
	OldPrice    decimal.NullDecimal `json:"old_price"`
	StockQty    int                 `json:"stock_qty"`
	IsActive    bool                `json:"is_active"`
	IsNew       bool                `json:"is_new"`
	IsHit       bool                `json:"is_hit"`
	IsSale      bool                `json:"is_sale"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
