package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/mailer"
)

// Subject is the email subject line for an event's complimentary tickets.
func Subject(eventName string) string {
	return "You've received complimentary tickets for " + eventName
}

type renderOutcome struct {
	Payloads []domain.NotificationPayload
	// Skipped holds order ids with no payload, in input order.
	Skipped []string
}

// renderNotifications re-reads each committed order and renders its email.
// Missing orders, empty addresses and render errors skip that order only.
func (p *Pipeline) renderNotifications(ctx context.Context, orderIDs []string) renderOutcome {
	ctx, span := p.tracer.Start(ctx, "fulfillment.render")
	defer span.End()
	span.SetAttributes(attribute.Int("orders.count", len(orderIDs)))

	out := renderOutcome{Payloads: make([]domain.NotificationPayload, 0, len(orderIDs))}
	for i, id := range orderIDs {
		payload, ok := p.renderOne(ctx, id)
		if ok {
			out.Payloads = append(out.Payloads, payload)
		} else {
			out.Skipped = append(out.Skipped, id)
		}
		if (i+1)%50 == 0 || i == len(orderIDs)-1 {
			p.log.Info("Rendered %d/%d emails...", i+1, len(orderIDs))
		}
	}
	span.SetAttributes(attribute.Int("payloads.count", len(out.Payloads)))
	return out
}

func (p *Pipeline) renderOne(ctx context.Context, orderID string) (domain.NotificationPayload, bool) {
	detail, err := p.fetchOrder(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		p.log.Warn("Skipping order %s: not found after commit", orderID)
		return domain.NotificationPayload{}, false
	}
	if err != nil {
		p.log.Error("Skipping order %s: %v", orderID, err)
		return domain.NotificationPayload{}, false
	}
	to := strings.TrimSpace(detail.Email)
	if to == "" {
		p.log.Warn("Skipping order %s: no email found", orderID)
		return domain.NotificationPayload{}, false
	}

	html, err := p.renderer.Render(ctx, detail)
	if err != nil {
		p.log.Error("Failed to render email: %v", &domain.RenderError{OrderID: orderID, Err: err})
		return domain.NotificationPayload{}, false
	}
	return domain.NotificationPayload{
		OrderID: orderID,
		To:      to,
		Subject: Subject(detail.Event.Name),
		HTML:    html,
	}, true
}

// fetchOrder retries a not-found read with linear backoff so a lagging
// replica does not silently drop a notification.
func (p *Pipeline) fetchOrder(ctx context.Context, orderID string) (domain.OrderDetail, error) {
	for attempt := 1; ; attempt++ {
		detail, err := p.store.FindOrderDetailed(ctx, orderID)
		if err == nil || !errors.Is(err, domain.ErrNotFound) || attempt >= p.cfg.RefetchAttempts {
			return detail, err
		}
		if serr := p.sleep(ctx, time.Duration(attempt)*p.cfg.RefetchBackoff); serr != nil {
			return domain.OrderDetail{}, serr
		}
	}
}

type sendOutcome struct {
	Sent   int
	Failed []domain.NotificationPayload
	Errors []*domain.BatchSendError
}

// FailedAddresses lists the recipient of every failed payload in order.
func (o sendOutcome) FailedAddresses() []string {
	return payloadAddresses(o.Failed)
}

// sendNotifications submits payloads in provider-sized groups, pausing
// between groups. A rejected group fails every address in it. A temporary
// rejection leaves the group FAILED for a later resend; any other rejection
// marks it REJECTED. If the pause is cut short by ctx, every group not yet
// submitted is reported failed with the context error and keeps its lease.
func (p *Pipeline) sendNotifications(ctx context.Context, payloads []domain.NotificationPayload) sendOutcome {
	batches := Chunk(payloads, p.cfg.SendBatchSize)
	var out sendOutcome

	for i, batch := range batches {
		p.log.Info("Batch %d/%d: sending %d emails...", i+1, len(batches), len(batch))
		if err := p.sendBatch(ctx, i+1, batch); err != nil {
			out.fail(i+1, batch, err)
			p.logBatchFailure(i+1, batch, err)
			status := domain.DeliveryRejected
			if mailer.IsTemporary(err) {
				status = domain.DeliveryFailed
			}
			p.markDeliveries(ctx, batch, status, err.Error())
		} else {
			out.Sent += len(batch)
			p.log.Info("Email batch %d sent successfully", i+1)
			p.markDeliveries(ctx, batch, domain.DeliverySent, "")
		}

		if i < len(batches)-1 && p.cfg.InterBatchDelay > 0 {
			if err := p.sleep(ctx, p.cfg.InterBatchDelay); err != nil {
				p.log.Error("Sending stopped after batch %d: %v", i+1, err)
				for j := i + 1; j < len(batches); j++ {
					out.fail(j+1, batches[j], err)
					p.logBatchFailure(j+1, batches[j], err)
				}
				break
			}
		}
	}
	return out
}

func (o *sendOutcome) fail(index int, batch []domain.NotificationPayload, err error) {
	o.Errors = append(o.Errors, &domain.BatchSendError{Index: index, Emails: payloadAddresses(batch), Err: err})
	o.Failed = append(o.Failed, batch...)
}

func (p *Pipeline) logBatchFailure(index int, batch []domain.NotificationPayload, err error) {
	p.log.Error("Email batch %d failed: %v", index, err)
	p.log.Error("Email batch %d recipients: %s", index, domain.JoinEmails(payloadAddresses(batch)))
}

func (p *Pipeline) sendBatch(ctx context.Context, index int, batch []domain.NotificationPayload) error {
	ctx, span := p.tracer.Start(ctx, "fulfillment.send_batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.index", index),
		attribute.Int("batch.size", len(batch)),
	)

	msgs := make([]mailer.Message, len(batch))
	for i, pl := range batch {
		msgs[i] = mailer.Message{From: p.cfg.From, To: pl.To, Subject: pl.Subject, HTML: pl.HTML}
	}
	if err := p.sender.SendBatch(ctx, msgs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch rejected")
		return err
	}
	return nil
}

// markDeliveries records a batch outcome. Tracking is best effort and never
// changes the sent or failed counts.
func (p *Pipeline) markDeliveries(ctx context.Context, batch []domain.NotificationPayload, status domain.DeliveryStatus, lastErr string) {
	ids := make([]string, 0, len(batch))
	for _, pl := range batch {
		if pl.OrderID != "" {
			ids = append(ids, pl.OrderID)
		}
	}
	if err := p.store.MarkDeliveries(context.WithoutCancel(ctx), ids, status, lastErr); err != nil {
		p.log.Warn("Could not record %s for %d deliveries: %v", status, len(ids), err)
	}
}

func payloadAddresses(batch []domain.NotificationPayload) []string {
	out := make([]string, len(batch))
	for i, pl := range batch {
		out[i] = pl.To
	}
	return out
}
