package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TropTix/troptix/pkg/domain"
)

// ReservedTicketTypeName is the one ticket type a bulk run may create per event.
const ReservedTicketTypeName = "Two Day Ticket - Complementary"

const saleWindowLead = 365 * 24 * time.Hour

// provision loads the event and creates the complimentary ticket type sized
// to quantity. An existing ticket type with the reserved name is a conflict.
func (p *Pipeline) provision(ctx context.Context, eventID string, quantity int) (domain.Event, domain.TicketType, error) {
	ctx, span := p.tracer.Start(ctx, "fulfillment.provision")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.Int("ticket_type.quantity", quantity),
	)

	event, err := p.store.FindEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, domain.TicketType{}, fmt.Errorf("find event: %w", err)
	}

	existing, found, err := p.store.FindTicketTypeByName(ctx, eventID, ReservedTicketTypeName)
	if err != nil {
		return domain.Event{}, domain.TicketType{}, fmt.Errorf("find ticket type: %w", err)
	}
	if found {
		return domain.Event{}, domain.TicketType{}, fmt.Errorf(
			"%w: a complimentary ticket type already exists for event %s (id %s); delete it or use a different event",
			domain.ErrConflict, eventID, existing.ID)
	}

	tt := complimentaryTicketType(p.newID(), event, quantity, p.now())
	if err := p.store.CreateTicketType(ctx, tt); err != nil {
		return domain.Event{}, domain.TicketType{}, fmt.Errorf("create ticket type: %w", err)
	}
	return event, tt, nil
}

func complimentaryTicketType(id string, event domain.Event, quantity int, now time.Time) domain.TicketType {
	saleEnd := event.StartDate
	if event.EndDate != nil {
		saleEnd = *event.EndDate
	}
	return domain.TicketType{
		ID:                 id,
		EventID:            event.ID,
		Name:               ReservedTicketTypeName,
		Kind:               domain.TicketKindFree,
		Quantity:           quantity,
		QuantitySold:       0,
		Price:              decimal.Zero,
		MaxPurchasePerUser: 1,
		SaleStartDate:      event.StartDate.Add(-saleWindowLead),
		SaleEndDate:        saleEnd,
		TicketingFees:      "PASS_TICKET_FEES",
		Description:        "Complimentary tickets - Bulk created " + now.UTC().Format(time.RFC3339),
	}
}
