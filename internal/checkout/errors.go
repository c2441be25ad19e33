package checkout

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound means the product reference does not resolve to a product.
	ErrNotFound = errors.New("product not found")
	// ErrProductUnavailable means the product exists but is switched off for sale.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrOutOfStock means the locked stock quantity cannot cover the purchase.
	ErrOutOfStock = errors.New("product out of stock")
	// ErrValidationFailed is wrapped by every *ValidationError.
	ErrValidationFailed = errors.New("validation failed")
	// ErrBusy means the product row could not be locked in time. Safe to retry.
	ErrBusy = errors.New("checkout busy")
)

// ValidationError carries one message per offending input field, keyed by
// the field's wire name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "internal"
	}
}
