package orders

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-otel-demo/internal/checkout"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		busy bool
	}{
		{"lock timeout", &pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"}, true},
		{"statement cancel", &pq.Error{Code: "57014"}, true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("commit: %w", &pq.Error{Code: "40P01"}), true},
		{"check violation", &pq.Error{Code: "23514"}, false},
		{"plain error", errors.New("bad connection"), false},
		{"domain error", checkout.ErrOutOfStock, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if errors.Is(got, checkout.ErrBusy) != tt.busy {
				t.Errorf("classify(%v) busy = %v, want %v", tt.err, !tt.busy, tt.busy)
			}
			if !tt.busy && got != tt.err {
				t.Errorf("expected non-busy error to pass through unchanged")
			}
		})
	}

	if classify(nil) != nil {
		t.Error("expected nil to stay nil")
	}
}
