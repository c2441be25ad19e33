package checkout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBuyer(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name   string
		buyer  Buyer
		fields map[string]string
	}{
		{
			name:  "valid without email",
			buyer: Buyer{Name: "Ivan", Phone: "+70000000000"},
		},
		{
			name:  "valid with email",
			buyer: Buyer{Name: "Ivan", Phone: "+70000000000", Email: "ivan@example.com"},
		},
		{
			name:   "missing name and phone",
			buyer:  Buyer{},
			fields: map[string]string{"customer_name": "is required", "customer_phone": "is required"},
		},
		{
			name:   "phone too long",
			buyer:  Buyer{Name: "Ivan", Phone: strings.Repeat("7", 33)},
			fields: map[string]string{"customer_phone": "must be at most 32 characters"},
		},
		{
			name:   "nul byte in name",
			buyer:  Buyer{Name: "Iv\x00an", Phone: "+70000000000"},
			fields: map[string]string{"customer_name": "must not contain control characters"},
		},
		{
			name:  "non-latin name is fine",
			buyer: Buyer{Name: "Иван Петров", Phone: "+70000000000"},
		},
		{
			name:   "name too long",
			buyer:  Buyer{Name: strings.Repeat("a", 256), Phone: "+7"},
			fields: map[string]string{"customer_name": "must be at most 255 characters"},
		},
		{
			name:   "malformed email",
			buyer:  Buyer{Name: "Ivan", Phone: "+7", Email: "ivan-at-example"},
			fields: map[string]string{"customer_email": "must be a valid email address"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBuyer(v, tt.buyer)
			if tt.fields == nil {
				require.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.Equal(t, tt.fields, verr.Fields)
		})
	}
}

func TestBuyerNormalize(t *testing.T) {
	got := Buyer{Name: " Ivan\t", Phone: " +7 ", Email: " "}.normalize()
	assert.Equal(t, Buyer{Name: "Ivan", Phone: "+7"}, got)
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"customer_phone": "is required",
		"customer_name":  "is required",
	}}
	assert.Equal(t, "validation failed: customer_name is required; customer_phone is required", err.Error())
}
