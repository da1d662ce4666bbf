package gridkit

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a constant error type for simple sentinel values.
type Error string

func (e Error) Error() string { return string(e) }

// ErrNoWatermark is returned by helpers which require a previously
// committed watermark when none exists for the entity.
const ErrNoWatermark = Error("no watermark committed for entity")

// TransientError wraps a failure which is expected to clear on retry:
// network timeouts, rate limiting, server-side errors. The Runner retries
// transient failures with exponential backoff; any other error aborts the
// run immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

// Cause returns the wrapped error.
func (e *TransientError) Cause() error { return e.Err }

// Transient wraps err so that IsTransient reports true for it. Returns nil
// if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether any error in err's cause chain is a
// TransientError.
func IsTransient(err error) bool {
	for err != nil {
		if _, ok := err.(*TransientError); ok {
			return true
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = causer.Cause()
	}
	return false
}

// FieldMissingError rejects a raw record which has no value for a required
// schema field.
type FieldMissingError struct {
	Field string
}

func (e FieldMissingError) Error() string {
	return fmt.Sprintf("required field %q missing", e.Field)
}

// FieldTypeError rejects a raw record whose value cannot be coerced to the
// declared type of a schema field.
type FieldTypeError struct {
	Field string
	Type  FieldType
	Value interface{}
}

func (e FieldTypeError) Error() string {
	return fmt.Sprintf("field %q: couldn't convert %v of %[2]T to %s", e.Field, e.Value, e.Type)
}

// IsRejection reports whether err represents a per-record rejection rather
// than a run-level failure. Rejected records are counted and skipped; they
// never abort a batch.
func IsRejection(err error) bool {
	switch errors.Cause(err).(type) {
	case FieldMissingError, FieldTypeError:
		return true
	}
	return false
}

// StaleWatermarkError is returned by WatermarkStore.Commit when the cursor
// being committed does not strictly advance the stored one. With a single
// committing writer per entity this indicates a misconfigured or duplicated
// run, so the Runner treats it as fatal rather than retrying.
type StaleWatermarkError struct {
	Entity string
	Stored Cursor
	Given  Cursor
}

func (e StaleWatermarkError) Error() string {
	return fmt.Sprintf("stale watermark commit for %q: stored %d, given %d", e.Entity, e.Stored, e.Given)
}

// WriteError aborts a run during segment writing. The watermark is never
// advanced past a WriteError, so the failed batch is re-fetched in full by
// the next run.
type WriteError struct {
	Partition string
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing partition %q: %v", e.Partition, e.Err)
}

// Cause returns the underlying storage error.
func (e *WriteError) Cause() error { return e.Err }
