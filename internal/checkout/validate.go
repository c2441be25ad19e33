package checkout

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Buyer is the contact information a quick purchase is placed under.
type Buyer struct {
	Name  string `json:"customer_name" validate:"required,max=255,nocontrol"`
	Phone string `json:"customer_phone" validate:"required,max=32,nocontrol"`
	Email string `json:"customer_email" validate:"omitempty,max=255,nocontrol,email"`
}

func (b Buyer) normalize() Buyer {
	return Buyer{
		Name:  strings.TrimSpace(b.Name),
		Phone: strings.TrimSpace(b.Phone),
		Email: strings.TrimSpace(b.Email),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// nocontrol rejects control characters, NUL included.
	_ = v.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), unicode.IsControl) < 0
	})
	return v
}

func validateBuyer(v *validator.Validate, buyer Buyer) error {
	err := v.Struct(buyer)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate buyer: %w", err)
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "nocontrol":
		return "must not contain control characters"
	default:
		return "is invalid"
	}
}
