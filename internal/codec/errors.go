package codec

import (
	"errors"
	"fmt"
)

// ErrMissingField matches every DecodeError via errors.Is
var ErrMissingField = errors.New("missing field")

// DecodeError reports a wire document that lacks a required field or carries it
// with the wrong shape. Field is the leaf name, e.g. "username" or "coordinates".
type DecodeError struct {
	Field string
}

// MissingField builds a DecodeError for the named field
func MissingField(name string) *DecodeError {
	return &DecodeError{Field: name}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: missing or malformed field %q", e.Field)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMissingField
}
