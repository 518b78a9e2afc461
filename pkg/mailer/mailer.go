// Package mailer defines the batch delivery contract shared by email providers.
package mailer

import (
	"context"
	"errors"
)

// MaxBatchSize is the provider ceiling on messages per batch call.
const MaxBatchSize = 100

// Message is one email handed to the delivery service.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender submits a batch of messages in one call. A non-nil error means the
// whole batch is considered undelivered. Failures worth retrying later are
// wrapped in a TemporaryError; any other error is a permanent rejection.
type Sender interface {
	SendBatch(ctx context.Context, msgs []Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msgs []Message) error

func (f SenderFunc) SendBatch(ctx context.Context, msgs []Message) error { return f(ctx, msgs) }

// TemporaryError marks a delivery failure worth retrying in a later run.
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string { return e.Err.Error() }

func (e *TemporaryError) Unwrap() error { return e.Err }

// Temporary wraps err as a TemporaryError. A nil err stays nil.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

// IsTemporary reports whether err, or anything it wraps, is a TemporaryError.
func IsTemporary(err error) bool {
	var te *TemporaryError
	return errors.As(err, &te)
}
