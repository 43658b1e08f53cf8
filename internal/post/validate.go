package post

import (
	"errors"
	"fmt"
)

// Sentinel errors for post validation failures.
var (
	ErrEmptyID     = errors.New("post: id is empty")
	ErrEmptyText   = errors.New("post: text is empty")
	ErrNoTimestamp = errors.New("post: created_at is zero")
	ErrEmptySource = errors.New("post: source is empty")
)

// ValidationError wraps a sentinel error with the offending field.
type ValidationError struct {
	Field   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s (field=%s)", e.Wrapped, e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// Validate checks the invariants spec.md §4.A requires of every Post a
// datasource hands to on_post: non-empty id, non-empty text after
// cleaning, a set timestamp, and a known source.
func Validate(p Post) error {
	if p.ID == "" {
		return &ValidationError{Field: "id", Wrapped: ErrEmptyID}
	}
	if p.Text == "" {
		return &ValidationError{Field: "text", Wrapped: ErrEmptyText}
	}
	if p.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Wrapped: ErrNoTimestamp}
	}
	if p.Source == "" {
		return &ValidationError{Field: "source", Wrapped: ErrEmptySource}
	}
	return nil
}
