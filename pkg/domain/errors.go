package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFatalInput marks bad arguments or unusable input detected before any write.
	ErrFatalInput = errors.New("invalid input")
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write collides with an existing record.
	ErrConflict = errors.New("record conflict")
	// ErrAcquireTimeout indicates a transaction could not start in time.
	ErrAcquireTimeout = errors.New("transaction acquire timeout")
	// ErrTransactionTimeout indicates a transaction exceeded its total duration.
	ErrTransactionTimeout = errors.New("transaction timeout")
)

// BatchWriteError describes one order batch whose transaction was rolled back.
type BatchWriteError struct {
	Index  int
	Emails []string
	Err    error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("order batch %d (%d recipients): %v", e.Index, len(e.Emails), e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }

// BatchSendError describes one email batch rejected by the delivery service.
type BatchSendError struct {
	Index  int
	Emails []string
	Err    error
}

func (e *BatchSendError) Error() string {
	return fmt.Sprintf("email batch %d (%d messages): %v", e.Index, len(e.Emails), e.Err)
}

func (e *BatchSendError) Unwrap() error { return e.Err }

// RenderError describes one order whose notification could not be rendered.
type RenderError struct {
	OrderID string
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render order %s: %v", e.OrderID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// JoinEmails formats an address list for log lines.
func JoinEmails(emails []string) string {
	return strings.Join(emails, ", ")
}
