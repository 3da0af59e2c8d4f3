package common

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// requestValidator lazily builds the shared struct validator keyed by json field names.
var requestValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
})

// ValidateRequest checks one request struct against its validate tags.
// Failures on a value field report ErrDisallowedValue; all others report ErrInvalidRequest.
func ValidateRequest(req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", errors.Join(ErrInvalidRequest, err))
	}
	sentinel := ErrInvalidRequest
	messages := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		if fieldErr.Field() == "value" {
			sentinel = ErrDisallowedValue
		}
		messages = append(messages, describeFieldError(fieldErr))
	}
	return fmt.Errorf("%s: %w", strings.Join(messages, "; "), sentinel)
}

// describeFieldError renders one failed tag check.
func describeFieldError(fieldErr validator.FieldError) string {
	field := fieldErr.Field()
	switch fieldErr.Tag() {
	case "required":
		return field + " is required"
	case "datetime":
		return field + " must be a YYYY-MM-DD day"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fieldErr.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fieldErr.Param())
	default:
		return fmt.Sprintf("%s failed %q", field, fieldErr.Tag())
	}
}
