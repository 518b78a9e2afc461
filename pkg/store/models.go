package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/TropTix/troptix/pkg/domain"
)

/* -------------------- GORM MODELS -------------------- */

type eventModel struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)"`
	Name        string     `gorm:"type:varchar(200);not null"`
	ImageURL    *string    `gorm:"type:text"`
	StartDate   time.Time  `gorm:"not null"`
	EndDate     *time.Time
	Address     *string    `gorm:"type:text"`
	Description string     `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

func (eventModel) TableName() string { return "event" }

type ticketTypeModel struct {
	ID                 string          `gorm:"primaryKey;type:varchar(64)"`
	EventID            string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_ticket_type_event_name,priority:1"`
	Event              *eventModel     `gorm:"foreignKey:EventID"`
	Name               string          `gorm:"type:varchar(200);not null;uniqueIndex:ux_ticket_type_event_name,priority:2"`
	Kind               string          `gorm:"type:varchar(16);not null"`
	Quantity           int             `gorm:"not null"`
	QuantitySold       int             `gorm:"not null;default:0"`
	Price              decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	MaxPurchasePerUser int             `gorm:"not null;default:1"`
	SaleStartDate      time.Time       `gorm:"not null"`
	SaleEndDate        time.Time       `gorm:"not null"`
	TicketingFees      string          `gorm:"type:varchar(32);not null"`
	Description        string          `gorm:"type:text"`
	CreatedAt          time.Time       `gorm:"not null"`
	UpdatedAt          time.Time       `gorm:"not null"`
}

func (ticketTypeModel) TableName() string { return "ticket_type" }

type orderModel struct {
	ID        string          `gorm:"primaryKey;type:varchar(64)"`
	EventID   string          `gorm:"type:varchar(64);not null;index"`
	Event     *eventModel     `gorm:"foreignKey:EventID"`
	FirstName string          `gorm:"type:varchar(200)"`
	LastName  string          `gorm:"type:varchar(200)"`
	Email     string          `gorm:"type:varchar(320);index"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Fees      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status    string          `gorm:"type:varchar(16);not null"`
	Tickets   []ticketModel   `gorm:"foreignKey:OrderID"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (orderModel) TableName() string { return "orders" }

type ticketModel struct {
	ID           string           `gorm:"primaryKey;type:varchar(64)"`
	OrderID      string           `gorm:"type:varchar(64);not null;index"`
	EventID      string           `gorm:"type:varchar(64);not null"`
	TicketTypeID string           `gorm:"type:varchar(64);not null;index"`
	TicketType   *ticketTypeModel `gorm:"foreignKey:TicketTypeID"`
	Email        string           `gorm:"type:varchar(320)"`
	FirstName    string           `gorm:"type:varchar(200)"`
	LastName     string           `gorm:"type:varchar(200)"`
	Total        decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	Subtotal     decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	Fees         decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	Status       string           `gorm:"type:varchar(16);not null"`
	Kind         string           `gorm:"type:varchar(16);not null"`
	CreatedAt    time.Time        `gorm:"not null"`
	UpdatedAt    time.Time        `gorm:"not null"`
}

func (ticketModel) TableName() string { return "ticket" }

type deliveryModel struct {
	OrderID      string     `gorm:"primaryKey;type:varchar(64)"`
	EventID      string     `gorm:"type:varchar(64);not null;index:idx_delivery_event_status"`
	Email        string     `gorm:"type:varchar(320);not null"`
	Status       string     `gorm:"type:varchar(16);not null;index:idx_delivery_event_status"` // QUEUED|SENT|FAILED|REJECTED
	AttemptCount int        `gorm:"not null;default:0"`
	LastError    string     `gorm:"type:text"`
	LeaseUntil   *time.Time `gorm:"index"`
	ClaimToken   string     `gorm:"type:varchar(64);index"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

func (deliveryModel) TableName() string { return "notification_delivery" }

type runModel struct {
	ID           string         `gorm:"primaryKey;type:varchar(64)"`
	EventID      string         `gorm:"type:varchar(64);not null;index"`
	TicketTypeID string         `gorm:"type:varchar(64)"`
	InputName    string         `gorm:"type:text"`
	Report       datatypes.JSON `gorm:"not null"`
	FailedEmails datatypes.JSON `gorm:"not null"`
	StartedAt    time.Time      `gorm:"not null"`
	FinishedAt   time.Time      `gorm:"not null"`
}

func (runModel) TableName() string { return "fulfillment_run" }

func allModels() []any {
	return []any{
		&eventModel{},
		&ticketTypeModel{},
		&orderModel{},
		&ticketModel{},
		&deliveryModel{},
		&runModel{},
	}
}

/* -------------------- Mapping (domain <-> model) -------------------- */

func toEventModel(e domain.Event, now time.Time) *eventModel {
	return &eventModel{
		ID:          e.ID,
		Name:        e.Name,
		ImageURL:    optionalString(e.ImageURL),
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
		Address:     optionalString(e.Address),
		Description: e.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func fromEventModel(m eventModel) domain.Event {
	return domain.Event{
		ID:          m.ID,
		Name:        m.Name,
		ImageURL:    derefString(m.ImageURL),
		StartDate:   m.StartDate,
		EndDate:     m.EndDate,
		Address:     derefString(m.Address),
		Description: m.Description,
	}
}

func toTicketTypeModel(t domain.TicketType, now time.Time) *ticketTypeModel {
	return &ticketTypeModel{
		ID:                 t.ID,
		EventID:            t.EventID,
		Name:               t.Name,
		Kind:               string(t.Kind),
		Quantity:           t.Quantity,
		QuantitySold:       t.QuantitySold,
		Price:              t.Price,
		MaxPurchasePerUser: t.MaxPurchasePerUser,
		SaleStartDate:      t.SaleStartDate,
		SaleEndDate:        t.SaleEndDate,
		TicketingFees:      t.TicketingFees,
		Description:        t.Description,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func fromTicketTypeModel(m ticketTypeModel) domain.TicketType {
	return domain.TicketType{
		ID:                 m.ID,
		EventID:            m.EventID,
		Name:               m.Name,
		Kind:               domain.TicketKind(m.Kind),
		Quantity:           m.Quantity,
		QuantitySold:       m.QuantitySold,
		Price:              m.Price,
		MaxPurchasePerUser: m.MaxPurchasePerUser,
		SaleStartDate:      m.SaleStartDate,
		SaleEndDate:        m.SaleEndDate,
		TicketingFees:      m.TicketingFees,
		Description:        m.Description,
	}
}

func toOrderModel(o domain.Order, now time.Time) *orderModel {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &orderModel{
		ID:        o.ID,
		EventID:   o.EventID,
		FirstName: o.FirstName,
		LastName:  o.LastName,
		Email:     o.Email,
		Total:     o.Total,
		Subtotal:  o.Subtotal,
		Fees:      o.Fees,
		Status:    string(o.Status),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
}

func fromOrderModel(m orderModel) domain.Order {
	return domain.Order{
		ID:        m.ID,
		EventID:   m.EventID,
		Email:     m.Email,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Total:     m.Total,
		Subtotal:  m.Subtotal,
		Fees:      m.Fees,
		Status:    domain.OrderStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

func toTicketModel(t domain.Ticket, now time.Time) *ticketModel {
	return &ticketModel{
		ID:           t.ID,
		OrderID:      t.OrderID,
		EventID:      t.EventID,
		TicketTypeID: t.TicketTypeID,
		Email:        t.Email,
		FirstName:    t.FirstName,
		LastName:     t.LastName,
		Total:        t.Total,
		Subtotal:     t.Subtotal,
		Fees:         t.Fees,
		Status:       string(t.Status),
		Kind:         string(t.Kind),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func fromTicketModel(m ticketModel) domain.TicketDetail {
	detail := domain.TicketDetail{
		Ticket: domain.Ticket{
			ID:           m.ID,
			OrderID:      m.OrderID,
			EventID:      m.EventID,
			TicketTypeID: m.TicketTypeID,
			Email:        m.Email,
			FirstName:    m.FirstName,
			LastName:     m.LastName,
			Total:        m.Total,
			Subtotal:     m.Subtotal,
			Fees:         m.Fees,
			Status:       domain.TicketStatus(m.Status),
			Kind:         domain.TicketKind(m.Kind),
		},
	}
	if m.TicketType != nil {
		tt := fromTicketTypeModel(*m.TicketType)
		detail.TicketType = &tt
	}
	return detail
}

// toQueuedDeliveryModel builds the tracking row for a new order, leased to
// the run that is about to send it.
func toQueuedDeliveryModel(o domain.Order, now, leaseUntil time.Time) *deliveryModel {
	return &deliveryModel{
		OrderID:    o.ID,
		EventID:    o.EventID,
		Email:      o.Email,
		Status:     string(domain.DeliveryQueued),
		LeaseUntil: &leaseUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func fromDeliveryModel(m deliveryModel) domain.Delivery {
	return domain.Delivery{
		OrderID:      m.OrderID,
		EventID:      m.EventID,
		Email:        m.Email,
		Status:       domain.DeliveryStatus(m.Status),
		AttemptCount: m.AttemptCount,
		LastError:    m.LastError,
		LeaseUntil:   m.LeaseUntil,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
