package records

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is returned when a record lacks its identity key or cannot be decoded.
	ErrMalformedRecord = errors.New("records: malformed record")

	// ErrEmptyCollection is returned when the caller requires a non-empty collection.
	ErrEmptyCollection = errors.New("records: empty collection")
)

// MalformedRecordError reports the offending record of a batch.
type MalformedRecordError struct {
	Reason string
	Index  int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("records: malformed record at index %d: %s", e.Index, e.Reason)
}

// Unwrap allows errors.Is(err, ErrMalformedRecord).
func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}
