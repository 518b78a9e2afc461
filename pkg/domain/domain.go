package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketKind classifies a ticket type or an issued ticket.
type TicketKind string

const (
	TicketKindFree          TicketKind = "FREE"
	TicketKindPaid          TicketKind = "PAID"
	TicketKindComplementary TicketKind = "COMPLEMENTARY"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// TicketStatus is the lifecycle state of a single issued ticket.
type TicketStatus string

const (
	TicketStatusAvailable TicketStatus = "AVAILABLE"
	TicketStatusUsed      TicketStatus = "USED"
)

// CandidateRecord is one decoded input row, not yet deduplicated.
type CandidateRecord struct {
	Email     string
	FirstName string
	LastName  string
}

// Recipient is one unique notification target for a run.
type Recipient struct {
	Email     string
	FirstName string
	LastName  string
}

// Event is the listing that tickets are issued against. Read-only here.
type Event struct {
	ID          string
	Name        string
	ImageURL    string
	StartDate   time.Time
	EndDate     *time.Time
	Address     string
	Description string
}

// TicketType is a finite-capacity pool of tickets tied to one event.
type TicketType struct {
	ID                 string
	EventID            string
	Name               string
	Kind               TicketKind
	Quantity           int
	QuantitySold       int
	Price              decimal.Decimal
	MaxPurchasePerUser int
	SaleStartDate      time.Time
	SaleEndDate        time.Time
	TicketingFees      string
	Description        string
}

// Order is the access-granting record owned by one recipient.
type Order struct {
	ID        string
	EventID   string
	Email     string
	FirstName string
	LastName  string
	Total     decimal.Decimal
	Subtotal  decimal.Decimal
	Fees      decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
}

// Ticket is the unit of access owned by an order.
type Ticket struct {
	ID           string
	OrderID      string
	EventID      string
	TicketTypeID string
	Email        string
	FirstName    string
	LastName     string
	Total        decimal.Decimal
	Subtotal     decimal.Decimal
	Fees         decimal.Decimal
	Status       TicketStatus
	Kind         TicketKind
}

// TicketDetail is a ticket joined with its ticket type.
type TicketDetail struct {
	Ticket
	TicketType *TicketType
}

// OrderDetail is an order with its event and tickets, as needed by the email template.
type OrderDetail struct {
	Order
	Event   Event
	Tickets []TicketDetail
}

// NotificationPayload is one rendered email, used once then discarded.
type NotificationPayload struct {
	OrderID string
	To      string
	Subject string
	HTML    string
}

// DeliveryStatus is the result of handing a notification to the provider.
type DeliveryStatus string

const (
	DeliveryQueued   DeliveryStatus = "QUEUED"
	DeliverySent     DeliveryStatus = "SENT"
	// DeliveryFailed is a temporary failure that a later resend may retry.
	DeliveryFailed   DeliveryStatus = "FAILED"
	// DeliveryRejected is a permanent provider rejection. It is never resent.
	DeliveryRejected DeliveryStatus = "REJECTED"
)

// Delivery tracks the notification state of one order.
type Delivery struct {
	OrderID      string
	EventID      string
	Email        string
	Status       DeliveryStatus
	AttemptCount int
	LastError    string
	// LeaseUntil is set while a run or resend owns the row. Nobody else may
	// send it before the lease expires.
	LeaseUntil   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Run is the persisted record of one bulk fulfillment invocation.
type Run struct {
	ID           string
	EventID      string
	TicketTypeID string
	InputName    string
	ReportJSON   []byte
	FailedEmails []string
	StartedAt    time.Time
	FinishedAt   time.Time
}
