package fulfillment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TropTix/troptix/pkg/domain"
)

type writeOutcome struct {
	OrderIDs []string
	Failed   []domain.Recipient
	Errors   []*domain.BatchWriteError
}

// writeOrders creates one order per recipient, one transaction per group.
// A failed group is rolled back as a whole and the next group still runs.
func (p *Pipeline) writeOrders(ctx context.Context, eventID string, tt domain.TicketType, recipients []domain.Recipient) writeOutcome {
	batches := Chunk(recipients, p.cfg.WriteBatchSize)
	out := writeOutcome{OrderIDs: make([]string, 0, len(recipients))}

	for i, batch := range batches {
		p.log.Info("Batch %d/%d: creating %d orders...", i+1, len(batches), len(batch))
		ids, err := p.writeBatch(ctx, i+1, eventID, tt, batch)
		if err != nil {
			werr := &domain.BatchWriteError{Index: i + 1, Emails: recipientEmails(batch), Err: err}
			out.Errors = append(out.Errors, werr)
			out.Failed = append(out.Failed, batch...)
			p.log.Error("Batch %d failed: %v", i+1, err)
			p.log.Error("Failed recipients: %s", domain.JoinEmails(werr.Emails))
			continue
		}
		out.OrderIDs = append(out.OrderIDs, ids...)
		p.log.Info("Batch %d complete (%d orders)", i+1, len(ids))
	}

	if len(out.Failed) > 0 {
		p.log.Warn("%d orders failed. Failed emails saved for retry.", len(out.Failed))
	}
	return out
}

func (p *Pipeline) writeBatch(ctx context.Context, index int, eventID string, tt domain.TicketType, batch []domain.Recipient) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "fulfillment.write_batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.index", index),
		attribute.Int("batch.size", len(batch)),
		attribute.String("ticket_type.id", tt.ID),
	)

	var ids []string
	now := p.now()
	err := p.store.RunInTx(ctx, p.cfg.txOptions(), func(w domain.OrderWriter) error {
		ids = make([]string, 0, len(batch))
		for _, r := range batch {
			order, ticket := complimentaryOrder(p.newID(), p.newID(), eventID, tt.ID, r, now)
			if err := w.CreateOrderWithTicket(order, ticket); err != nil {
				return err
			}
			ids = append(ids, order.ID)
		}
		return w.IncrementQuantitySold(tt.ID, len(batch))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch rolled back")
		return nil, err
	}
	return ids, nil
}

func complimentaryOrder(orderID, ticketID, eventID, ticketTypeID string, r domain.Recipient, now time.Time) (domain.Order, domain.Ticket) {
	order := domain.Order{
		ID:        orderID,
		EventID:   eventID,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Total:     decimal.Zero,
		Subtotal:  decimal.Zero,
		Fees:      decimal.Zero,
		Status:    domain.OrderStatusCompleted,
		CreatedAt: now,
	}
	ticket := domain.Ticket{
		ID:           ticketID,
		OrderID:      orderID,
		EventID:      eventID,
		TicketTypeID: ticketTypeID,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Total:        decimal.Zero,
		Subtotal:     decimal.Zero,
		Fees:         decimal.Zero,
		Status:       domain.TicketStatusAvailable,
		Kind:         domain.TicketKindComplementary,
	}
	return order, ticket
}

func recipientEmails(rs []domain.Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Email
	}
	return out
}
