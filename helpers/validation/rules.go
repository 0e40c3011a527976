// Package validation provides the validation rules used for client payloads
// and server configuration.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/schemabounce/kolumn/directory/core"
)

// ValidationFunc is a function that validates a value
type ValidationFunc func(value interface{}, field string) error

// Field names a required payload key and the label reported when it is
// missing.
type Field struct {
	Key   string
	Label string
}

// RequireFields checks fields in order and reports the first one that is
// not present.
func RequireFields(present func(key string) bool, fields ...Field) error {
	for _, f := range fields {
		if !present(f.Key) {
			return core.MissingParameter(f.Label)
		}
	}
	return nil
}

// Compose multiple validation functions into one
func Compose(validators ...ValidationFunc) ValidationFunc {
	return func(value interface{}, field string) error {
		for _, validator := range validators {
			if err := validator(value, field); err != nil {
				return err
			}
		}
		return nil
	}
}

// NotEmpty validates that a string is not empty
func NotEmpty() ValidationFunc {
	return func(value interface{}, field string) error {
		str, ok := value.(string)
		if !ok {
			return &core.ValidationError{Field: field, Value: value, Message: "must be a string"}
		}
		if strings.TrimSpace(str) == "" {
			return &core.ValidationError{Field: field, Value: value, Message: "cannot be empty"}
		}
		return nil
	}
}

// IsInList validates that a string is one of validValues
func IsInList(validValues []string) ValidationFunc {
	return func(value interface{}, field string) error {
		str, ok := value.(string)
		if !ok {
			return &core.ValidationError{Field: field, Value: value, Message: "must be a string"}
		}
		for _, valid := range validValues {
			if str == valid {
				return nil
			}
		}
		return &core.ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validValues, ", ")),
		}
	}
}

// InRange validates that a number is within [min, max]
func InRange(min, max float64) ValidationFunc {
	return func(value interface{}, field string) error {
		var num float64
		switch v := value.(type) {
		case int:
			num = float64(v)
		case int64:
			num = float64(v)
		case float64:
			num = v
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return &core.ValidationError{Field: field, Value: value, Message: "must be a number"}
			}
			num = parsed
		default:
			return &core.ValidationError{Field: field, Value: value, Message: "must be a number"}
		}

		if num < min || num > max {
			return &core.ValidationError{
				Field:   field,
				Value:   value,
				Message: fmt.Sprintf("must be between %v and %v", min, max),
			}
		}
		return nil
	}
}

// IsValidPort validates port number (1-65535)
func IsValidPort() ValidationFunc {
	return InRange(1, 65535)
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

// IsValidHostname validates hostname format
func IsValidHostname() ValidationFunc {
	return func(value interface{}, field string) error {
		str, ok := value.(string)
		if !ok {
			return &core.ValidationError{Field: field, Value: value, Message: "must be a string"}
		}
		if len(str) > 253 || !hostnameRegex.MatchString(str) {
			return &core.ValidationError{Field: field, Value: value, Message: "must be a valid hostname"}
		}
		return nil
	}
}

// ValidateConfig validates a configuration map using provided validators
func ValidateConfig(config map[string]interface{}, validators map[string]ValidationFunc) error {
	var errs []error

	keys := make([]string, 0, len(validators))
	for field := range validators {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	for _, field := range keys {
		if value, exists := config[field]; exists {
			if err := validators[field](value, field); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}

// MultiValidationError represents multiple validation errors
type MultiValidationError struct {
	Errors []error
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		msg += fmt.Sprintf("\n  - %s", err.Error())
	}
	return msg
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *MultiValidationError) Unwrap() []error {
	return e.Errors
}
