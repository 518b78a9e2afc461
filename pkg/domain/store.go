package domain

import "time"

const (
	DefaultTxAcquireTimeout = 10 * time.Second
	DefaultTxTotalTimeout   = 30 * time.Second
)

// TxOptions bounds one write transaction.
type TxOptions struct {
	// AcquireTimeout caps the wait for a connection and BEGIN.
	AcquireTimeout time.Duration
	// TotalTimeout caps the whole transaction, commit included.
	TotalTimeout time.Duration
}

// WithDefaults fills zero durations.
func (o TxOptions) WithDefaults() TxOptions {
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultTxAcquireTimeout
	}
	if o.TotalTimeout <= 0 {
		o.TotalTimeout = DefaultTxTotalTimeout
	}
	return o
}

// OrderWriter is the write surface available inside one transaction.
// Calls run under the transaction's own deadline.
type OrderWriter interface {
	CreateOrderWithTicket(order Order, ticket Ticket) error
	IncrementQuantitySold(ticketTypeID string, delta int) error
}
