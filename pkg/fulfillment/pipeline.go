// Package fulfillment turns a recipient list into complimentary orders and
// notifies each recipient by email.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/logger"
	"github.com/TropTix/troptix/pkg/mailer"
)

const tracerName = "github.com/TropTix/troptix/pkg/fulfillment"

// Store is the record store the pipeline reads and writes.
type Store interface {
	FindEvent(ctx context.Context, id string) (domain.Event, error)
	FindTicketTypeByName(ctx context.Context, eventID, name string) (domain.TicketType, bool, error)
	CreateTicketType(ctx context.Context, t domain.TicketType) error
	RunInTx(ctx context.Context, opts domain.TxOptions, fn func(domain.OrderWriter) error) error
	FindOrderDetailed(ctx context.Context, id string) (domain.OrderDetail, error)
	MarkDeliveries(ctx context.Context, orderIDs []string, status domain.DeliveryStatus, lastError string) error
	ClaimRetryableDeliveries(ctx context.Context, eventID string, maxAttempts, limit int) ([]domain.Delivery, error)
	RecordRun(ctx context.Context, run domain.Run) error
}

// Renderer turns a detailed order into an HTML email body.
type Renderer interface {
	Render(ctx context.Context, d domain.OrderDetail) (string, error)
}

type Pipeline struct {
	cfg      Config
	store    Store
	renderer Renderer
	sender   mailer.Sender
	log      logger.Logger

	newID  func() string
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	tracer trace.Tracer
}

type Option func(*Pipeline)

// WithIDGenerator replaces uuid generation for order, ticket and run ids.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) { p.now = fn }
}

// WithSleep replaces the pause used between email batches and refetches.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func New(cfg Config, store Store, renderer Renderer, sender mailer.Sender, log logger.Logger, opts ...Option) (*Pipeline, error) {
	if store == nil || renderer == nil || sender == nil {
		return nil, errors.New("fulfillment: store, renderer and sender are required")
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	p := &Pipeline{
		cfg:      cfg,
		store:    store,
		renderer: renderer,
		sender:   sender,
		log:      log,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Input is one bulk request.
type Input struct {
	EventID   string
	Records   []domain.CandidateRecord
	InputName string
}

// Result is everything a run produced. WriteFailures and SendFailures hold
// the recipients to feed into a later run.
type Result struct {
	RunID         string
	Report        Report
	Event         domain.Event
	TicketType    domain.TicketType
	WriteFailures []domain.Recipient
	SendFailures  []domain.Recipient
}

// Run executes every stage in order. It returns an error only for problems
// found before the first order is written: bad input, an unknown event or an
// existing complimentary ticket type. Batch failures after that point are
// reported in the Result.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	started := p.now()
	runID := p.newID()
	ctx, span := p.tracer.Start(ctx, "fulfillment.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("event.id", in.EventID),
		attribute.Int("records.count", len(in.Records)),
	)

	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		return Result{}, fmt.Errorf("%w: event id is required", domain.ErrFatalInput)
	}
	if len(in.Records) == 0 {
		return Result{}, fmt.Errorf("%w: no recipients", domain.ErrFatalInput)
	}

	p.log.Info("Total rows: %d", len(in.Records))
	recipients, duplicates := Deduplicate(in.Records)
	if len(duplicates) > 0 {
		p.log.Info("Duplicates removed: %d", len(duplicates))
		p.log.Info("Duplicate emails: %s", previewList(duplicates, DuplicatePreviewLimit))
	}
	p.log.Info("Unique recipients: %d", len(recipients))

	event, tt, err := p.provision(ctx, eventID, len(recipients))
	if err != nil {
		return Result{}, err
	}
	p.log.Info("Event validated: %q", event.Name)
	p.log.Info("Ticket type created: %q (ID: %s)", tt.Name, tt.ID)

	p.log.Info("Creating orders (%d batches of %d)...", len(Chunk(recipients, p.cfg.WriteBatchSize)), p.cfg.WriteBatchSize)
	written := p.writeOrders(ctx, eventID, tt, recipients)
	p.log.Info("Total orders created: %d/%d", len(written.OrderIDs), len(recipients))

	p.log.Info("Rendering emails...")
	rendered := p.renderNotifications(ctx, written.OrderIDs)
	p.log.Info("%d emails rendered", len(rendered.Payloads))

	p.log.Info("Sending emails (%d batches of %d)...", len(Chunk(rendered.Payloads, p.cfg.SendBatchSize)), p.cfg.SendBatchSize)
	sent := p.sendNotifications(ctx, rendered.Payloads)
	p.log.Info("Total emails sent: %d/%d", sent.Sent, len(rendered.Payloads))

	report := BuildReport(ReportInput{
		Total:         len(in.Records),
		Unique:        len(recipients),
		OrdersCreated: len(written.OrderIDs),
		Rendered:      len(rendered.Payloads),
		EmailsSent:    sent.Sent,
		FailedEmails:  sent.FailedAddresses(),
	})
	span.SetAttributes(
		attribute.Int("orders.created", report.OrdersCreated),
		attribute.Int("orders.failed", report.OrdersFailed),
		attribute.Int("emails.sent", report.EmailsSent),
		attribute.Int("emails.failed", report.EmailsFailed),
	)

	res := Result{
		RunID:         runID,
		Report:        report,
		Event:         event,
		TicketType:    tt,
		WriteFailures: written.Failed,
		SendFailures:  lookupRecipients(recipients, report.FailedEmails),
	}
	p.recordRun(ctx, res, in.InputName, started)
	return res, nil
}

func (p *Pipeline) recordRun(ctx context.Context, res Result, inputName string, started time.Time) {
	reportJSON, err := json.Marshal(res.Report)
	if err != nil {
		p.log.Warn("Could not encode run report: %v", err)
		return
	}
	failed := make([]string, 0, len(res.WriteFailures)+len(res.Report.FailedEmails))
	failed = append(failed, recipientEmails(res.WriteFailures)...)
	failed = append(failed, res.Report.FailedEmails...)

	run := domain.Run{
		ID:           res.RunID,
		EventID:      res.Event.ID,
		TicketTypeID: res.TicketType.ID,
		InputName:    inputName,
		ReportJSON:   reportJSON,
		FailedEmails: failed,
		StartedAt:    started,
		FinishedAt:   p.now(),
	}
	if err := p.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		p.log.Warn("Could not record run %s: %v", res.RunID, err)
	}
}

// ResendResult summarizes one Resend pass.
type ResendResult struct {
	Attempted int
	Rendered  int
	Sent      int
	Failed    []string
}

// Resend claims up to limit deliveries for an event that are still QUEUED or
// FAILED and not leased to another run or resend, then re-renders and
// re-sends them. Orders that can no longer be rendered are marked FAILED so
// their attempt count still advances.
func (p *Pipeline) Resend(ctx context.Context, eventID string, limit int) (ResendResult, error) {
	ctx, span := p.tracer.Start(ctx, "fulfillment.resend")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID), attribute.Int("limit", limit))

	deliveries, err := p.store.ClaimRetryableDeliveries(ctx, eventID, p.cfg.MaxDeliveryAttempts, limit)
	if err != nil {
		return ResendResult{}, err
	}
	if len(deliveries) == 0 {
		return ResendResult{}, nil
	}

	ids := make([]string, len(deliveries))
	for i, d := range deliveries {
		ids[i] = d.OrderID
	}
	rendered := p.renderNotifications(ctx, ids)
	if len(rendered.Skipped) > 0 {
		if err := p.store.MarkDeliveries(ctx, rendered.Skipped, domain.DeliveryFailed, "render failed"); err != nil {
			p.log.Warn("Could not record render failures: %v", err)
		}
	}

	sent := p.sendNotifications(ctx, rendered.Payloads)
	failed := append(deliveryEmails(deliveries, rendered.Skipped), sent.FailedAddresses()...)
	return ResendResult{
		Attempted: len(deliveries),
		Rendered:  len(rendered.Payloads),
		Sent:      sent.Sent,
		Failed:    failed,
	}, nil
}

func deliveryEmails(deliveries []domain.Delivery, orderIDs []string) []string {
	byID := make(map[string]string, len(deliveries))
	for _, d := range deliveries {
		byID[d.OrderID] = d.Email
	}
	out := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		out = append(out, byID[id])
	}
	return out
}

// lookupRecipients maps addresses back to the recipients they came from.
func lookupRecipients(recipients []domain.Recipient, emails []string) []domain.Recipient {
	if len(emails) == 0 {
		return nil
	}
	byKey := make(map[string]domain.Recipient, len(recipients))
	for _, r := range recipients {
		byKey[identityKey(r.Email)] = r
	}
	out := make([]domain.Recipient, 0, len(emails))
	for _, e := range emails {
		r, ok := byKey[identityKey(e)]
		if !ok {
			r = domain.Recipient{Email: e}
		}
		out = append(out, r)
	}
	return out
}

func previewList(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:limit], ", ") + "..."
}
