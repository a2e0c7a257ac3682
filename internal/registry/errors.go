package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError rejects malformed input before any transaction opens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// StateError rejects an illegal state transition or write-once violation.
type StateError struct {
	Current   string
	Requested string
	Msg       string
}

func (e StateError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("invalid transition: %s -> %s", e.Current, e.Requested)
}

// IntegrityError rejects writes that would break relational invariants:
// cycles, dangling references, deletes with live dependents.
type IntegrityError struct {
	Msg   string
	Cycle []string
}

func (e IntegrityError) Error() string {
	if len(e.Cycle) > 0 {
		return "cycle detected: " + strings.Join(e.Cycle, " -> ")
	}
	return e.Msg
}

// StoreError wraps I/O-level failures. Lock timeouts are retryable; callers
// may retry with backoff on those and only those.
type StoreError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a StoreError worth retrying.
func IsRetryable(err error) bool {
	var se StoreError
	return errors.As(err, &se) && se.Retryable
}

// storeErr classifies a raw database error into the taxonomy. Constraint
// violations surface as validation or integrity errors; lock contention is
// a retryable store error; anything else is fatal store I/O.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return ValidationError{Field: "id", Msg: "already exists"}
	case strings.Contains(msg, "foreign key constraint"):
		return IntegrityError{Msg: fmt.Sprintf("%s: dangling reference", op)}
	case strings.Contains(msg, "check constraint"):
		return ValidationError{Field: op, Msg: "constraint violation"}
	case strings.Contains(msg, "busy") || strings.Contains(msg, "locked"):
		return StoreError{Op: op, Err: err, Retryable: true}
	default:
		return StoreError{Op: op, Err: err}
	}
}
