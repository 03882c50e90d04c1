package models

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned by record stores when no row matches.
var ErrRecordNotFound = errors.New("record not found")

// DuplicateError reports a store-enforced uniqueness violation on a field.
type DuplicateError struct {
	Field string
	Err   error
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: %v", e.Field, e.Err)
}

func (e *DuplicateError) Unwrap() error { return e.Err }
