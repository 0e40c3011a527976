// Package security bounds the client input the directory handlers decode.
package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Security constants
const (
	// Maximum JSON payload size (1MB)
	MaxJSONSize = 1024 * 1024

	// Maximum JSON nesting depth
	MaxJSONDepth = 10

	// Maximum string length in JSON
	MaxStringLength = 65536

	// Maximum array/object items
	MaxArrayItems = 1000
)

var (
	ErrInputTooLarge = errors.New("input payload too large")
	ErrInputTooDeep  = errors.New("input nesting too deep")
	ErrInvalidInput  = errors.New("invalid input format")
	ErrStringTooLong = errors.New("string value too long")
	ErrTooManyItems  = errors.New("too many items in array/object")
)

// SafeUnmarshal unmarshals JSON with size and depth limits. Unknown fields
// are ignored; clients send the whole form state.
func SafeUnmarshal(input []byte, v interface{}) error {
	return safeUnmarshal(input, v, false)
}

// SafeUnmarshalStrict is SafeUnmarshal rejecting unknown fields.
func SafeUnmarshalStrict(input []byte, v interface{}) error {
	return safeUnmarshal(input, v, true)
}

func safeUnmarshal(input []byte, v interface{}, strict bool) error {
	if len(input) > MaxJSONSize {
		return ErrInputTooLarge
	}
	if len(bytes.TrimSpace(input)) == 0 {
		return ErrInvalidInput
	}

	// First pass: validate structure without unmarshaling
	if err := validateJSONStructure(input); err != nil {
		return err
	}

	decoder := json.NewDecoder(bytes.NewReader(input))
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("JSON decode error: %w", err)
	}
	return nil
}

// DecodeValue decodes one query-string style value: valid JSON within the
// limits is returned decoded, anything else is returned verbatim.
func DecodeValue(raw string) interface{} {
	if len(raw) > MaxJSONSize {
		return raw
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}
	if err := validateDepthAndSize(decoded, 0); err != nil {
		return raw
	}
	return decoded
}

func validateJSONStructure(input []byte) error {
	var raw interface{}
	if err := json.Unmarshal(input, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return validateDepthAndSize(raw, 0)
}

func validateDepthAndSize(value interface{}, depth int) error {
	if depth > MaxJSONDepth {
		return ErrInputTooDeep
	}

	switch v := value.(type) {
	case string:
		if len(v) > MaxStringLength {
			return ErrStringTooLong
		}

	case []interface{}:
		if len(v) > MaxArrayItems {
			return ErrTooManyItems
		}
		for _, item := range v {
			if err := validateDepthAndSize(item, depth+1); err != nil {
				return err
			}
		}

	case map[string]interface{}:
		if len(v) > MaxArrayItems {
			return ErrTooManyItems
		}
		for _, item := range v {
			if err := validateDepthAndSize(item, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}
