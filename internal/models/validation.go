package models

import (
	"errors"
	"strings"
)

var (
	ErrMissingID          = errors.New("id is required")
	ErrInvalidRowKind     = errors.New("unknown row kind")
	ErrInvalidStatus      = errors.New("unknown status")
	ErrInvalidCapacity    = errors.New("capacity must not be negative")
	ErrUsageOverCapacity  = errors.New("usage exceeds capacity")
	ErrMissingParent      = errors.New("parent id is required")
	ErrNegativeChildCount = errors.New("child count must not be negative")
)

// FieldError ties a validation failure to the record field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error { return e.Err }

// ValidationErrors collects every failure of one record so callers see them
// all at once. errors.Is and errors.As reach each recorded cause.
type ValidationErrors struct {
	Errors []*FieldError
}

// Require records err against field unless ok holds.
func (v *ValidationErrors) Require(ok bool, field string, err error) {
	if !ok {
		v.Add(field, err)
	}
}

// Add records err against field. A nested ValidationErrors is flattened and
// its fields are prefixed with field.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	var nested *ValidationErrors
	if !errors.As(err, &nested) {
		v.Errors = append(v.Errors, &FieldError{Field: field, Err: err})
		return
	}
	for _, fe := range nested.Errors {
		sub := fe.Field
		if field != "" && sub != "" {
			sub = field + "." + sub
		} else if sub == "" {
			sub = field
		}
		v.Errors = append(v.Errors, &FieldError{Field: sub, Err: fe.Err})
	}
}

// Err is nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(v.Errors))
	for i, fe := range v.Errors {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v *ValidationErrors) Unwrap() []error {
	if v == nil {
		return nil
	}
	out := make([]error, len(v.Errors))
	for i, fe := range v.Errors {
		out[i] = fe
	}
	return out
}
