package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64
}

// CheckPositive returns ErrInvalidInput, annotated with the parameter name, when number is zero or negative
func CheckPositive[T Number](number T, name string) error {
	if number <= 0 {
		return cerrors.Wrapf(ErrInvalidInput, "%s must be positive, but is %d", name, number)
	}
	return nil
}

// CheckNonNegative returns ErrInvalidInput, annotated with the parameter name, when number is negative
func CheckNonNegative[T Number](number T, name string) error {
	if number < 0 {
		return cerrors.Wrapf(ErrInvalidInput, "%s must not be negative, but is %d", name, number)
	}
	return nil
}
