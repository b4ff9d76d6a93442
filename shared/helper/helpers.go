package helper

import (
	"errors"
	"fmt"
)

// ErrUnexpectedType is returned when a dynamically typed value does not hold the requested type.
var ErrUnexpectedType = errors.New("unexpected type")

// GetTypedValueOf safely asserts the result of a getter function to the expected type T.
// Returns an error if the getter fails or the type assertion fails.
func GetTypedValueOf[T any](getFn func() (any, error)) (T, error) {
	var zero T

	res, err := getFn()
	if err != nil {
		return zero, fmt.Errorf("failed to get value: %w", err)
	}

	return Cast[T](res)
}

// Cast asserts v to T.
// A nil v yields the zero value of T without error, so interface and pointer
// types round-trip through `any` unchanged.
func Cast[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	val, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T, want %T", ErrUnexpectedType, v, zero)
	}
	return val, nil
}

// MustGetTypedValue is the panic-on-failure variant of GetTypedValueOf.
// Use when failure should be fatal (e.g., when a runtime is guaranteed to exist).
func MustGetTypedValue[T any](getFn func() (any, error)) T {
	res, err := GetTypedValueOf[T](getFn)
	if err != nil {
		panic(err)
	}
	return res
}

// MustCast is the panic-on-failure variant of Cast.
func MustCast[T any](v any) T {
	res, err := Cast[T](v)
	if err != nil {
		panic(err)
	}
	return res
}
