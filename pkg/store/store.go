package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TropTix/troptix/pkg/domain"
)

// DefaultDeliveryLease is how long a run or resend owns the deliveries it is
// sending before another process may pick them up.
const DefaultDeliveryLease = 30 * time.Minute

// Store persists events, ticket types, orders and notification deliveries.
type Store struct {
	db    *gorm.DB
	now   func() time.Time
	lease time.Duration
}

type Option func(*Store)

// WithDeliveryLease sets how long claimed deliveries stay owned. Values
// below one second keep the default.
func WithDeliveryLease(d time.Duration) Option {
	return func(s *Store) {
		if d >= time.Second {
			s.lease = d
		}
	}
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }, lease: DefaultDeliveryLease}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or updates every table the pipeline reads and writes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

/* -------------------- Events -------------------- */

// CreateEvent inserts an event listing. Events are owned by the ticketing
// platform; the pipeline only reads them.
func (s *Store) CreateEvent(ctx context.Context, e domain.Event) error {
	if err := s.db.WithContext(ctx).Create(toEventModel(e, s.now())).Error; err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) FindEvent(ctx context.Context, id string) (domain.Event, error) {
	var m eventModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if err != nil {
		return domain.Event{}, mapReadErr(err, "event "+id)
	}
	return fromEventModel(m), nil
}

/* -------------------- Ticket types -------------------- */

func (s *Store) FindTicketTypeByName(ctx context.Context, eventID, name string) (domain.TicketType, bool, error) {
	var m ticketTypeModel
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND name = ?", eventID, name).
		Limit(1).
		Find(&m).Error
	if err != nil {
		return domain.TicketType{}, false, err
	}
	if m.ID == "" {
		return domain.TicketType{}, false, nil
	}
	return fromTicketTypeModel(m), true, nil
}

func (s *Store) GetTicketType(ctx context.Context, id string) (domain.TicketType, error) {
	var m ticketTypeModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domain.TicketType{}, mapReadErr(err, "ticket type "+id)
	}
	return fromTicketTypeModel(m), nil
}

// CreateTicketType inserts a ticket type. A duplicate (event_id, name) pair
// is reported as domain.ErrConflict.
func (s *Store) CreateTicketType(ctx context.Context, t domain.TicketType) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(toTicketTypeModel(t, s.now())).Error; err != nil {
		return mapWriteErr(err)
	}
	return nil
}

/* -------------------- TX: orders + tickets + delivery -------------------- */

// RunInTx runs fn inside one database transaction. Starting the transaction
// is bounded by opts.AcquireTimeout and the whole unit, commit included, by
// opts.TotalTimeout. Any error from fn rolls everything back.
func (s *Store) RunInTx(ctx context.Context, opts domain.TxOptions, fn func(domain.OrderWriter) error) error {
	opts = opts.WithDefaults()
	txCtx, cancel := context.WithTimeout(ctx, opts.TotalTimeout)
	defer cancel()

	type begun struct {
		tx  *gorm.DB
		err error
	}
	started := make(chan begun, 1)
	go func() {
		tx := s.db.WithContext(txCtx).Begin()
		started <- begun{tx: tx, err: tx.Error}
	}()

	timer := time.NewTimer(opts.AcquireTimeout)
	defer timer.Stop()

	var tx *gorm.DB
	select {
	case b := <-started:
		if b.err != nil {
			return classifyTxErr(ctx, txCtx, fmt.Errorf("begin: %w", b.err))
		}
		tx = b.tx
	case <-timer.C:
		cancel()
		go func() {
			if b := <-started; b.err == nil {
				_ = b.tx.Rollback()
			}
		}()
		return fmt.Errorf("%w after %s", domain.ErrAcquireTimeout, opts.AcquireTimeout)
	}

	now := s.now()
	w := &txWriter{tx: tx, now: now, leaseUntil: now.Add(s.lease)}
	if err := fn(w); err != nil {
		_ = tx.Rollback().Error
		return classifyTxErr(ctx, txCtx, err)
	}
	if err := tx.Commit().Error; err != nil {
		return classifyTxErr(ctx, txCtx, fmt.Errorf("commit: %w", err))
	}
	return nil
}

type txWriter struct {
	tx         *gorm.DB
	now        time.Time
	leaseUntil time.Time
}

func (w *txWriter) CreateOrderWithTicket(order domain.Order, ticket domain.Ticket) error {
	// 1) orders
	if err := w.tx.Omit(clause.Associations).Create(toOrderModel(order, w.now)).Error; err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, mapWriteErr(err))
	}
	// 2) ticket
	if err := w.tx.Omit(clause.Associations).Create(toTicketModel(ticket, w.now)).Error; err != nil {
		return fmt.Errorf("create ticket %s: %w", ticket.ID, mapWriteErr(err))
	}
	// 3) delivery tracking row, owned by this run until it is marked
	if err := w.tx.Create(toQueuedDeliveryModel(order, w.now, w.leaseUntil)).Error; err != nil {
		return fmt.Errorf("queue delivery %s: %w", order.ID, mapWriteErr(err))
	}
	return nil
}

func (w *txWriter) IncrementQuantitySold(ticketTypeID string, delta int) error {
	res := w.tx.Model(&ticketTypeModel{}).
		Where("id = ?", ticketTypeID).
		Updates(map[string]any{
			"quantity_sold": gorm.Expr("quantity_sold + ?", delta),
			"updated_at":    w.now,
		})
	if res.Error != nil {
		return fmt.Errorf("increment quantity sold: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ticket type %s: %w", ticketTypeID, domain.ErrNotFound)
	}
	return nil
}

/* -------------------- Orders -------------------- */

// FindOrderDetailed loads an order with its event and tickets, each ticket
// joined with its ticket type.
func (s *Store) FindOrderDetailed(ctx context.Context, id string) (domain.OrderDetail, error) {
	var m orderModel
	err := s.db.WithContext(ctx).
		Preload("Event").
		Preload("Tickets.TicketType").
		First(&m, "id = ?", id).Error
	if err != nil {
		return domain.OrderDetail{}, mapReadErr(err, "order "+id)
	}
	detail := domain.OrderDetail{Order: fromOrderModel(m)}
	if m.Event != nil {
		detail.Event = fromEventModel(*m.Event)
	}
	detail.Tickets = make([]domain.TicketDetail, 0, len(m.Tickets))
	for _, t := range m.Tickets {
		detail.Tickets = append(detail.Tickets, fromTicketModel(t))
	}
	return detail, nil
}

/* -------------------- Deliveries -------------------- */

// MarkDeliveries records one send attempt for every order in orderIDs and
// releases their lease.
func (s *Store) MarkDeliveries(ctx context.Context, orderIDs []string, status domain.DeliveryStatus, lastError string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&deliveryModel{}).
		Where("order_id IN ?", orderIDs).
		Updates(map[string]any{
			"status":        string(status),
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    lastError,
			"lease_until":   nil,
			"claim_token":   "",
			"updated_at":    s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark deliveries %s: %w", status, err)
	}
	return nil
}

// ListRetryableDeliveries returns the QUEUED or FAILED deliveries for an event
// that nobody holds a live lease on and that have been attempted fewer than
// maxAttempts times, oldest first. It claims nothing.
func (s *Store) ListRetryableDeliveries(ctx context.Context, eventID string, maxAttempts, limit int) ([]domain.Delivery, error) {
	q := retryable(s.db.WithContext(ctx), eventID, maxAttempts, s.now()).
		Order("created_at, order_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []deliveryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return fromDeliveryModels(rows), nil
}

// ClaimRetryableDeliveries leases up to limit retryable deliveries to the
// caller and returns them, oldest first. Rows already leased to a run or to
// another resend are skipped, so two callers never get the same row.
func (s *Store) ClaimRetryableDeliveries(ctx context.Context, eventID string, maxAttempts, limit int) ([]domain.Delivery, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	token := uuid.NewString()

	pick := retryable(db.Model(&deliveryModel{}).Select("order_id"), eventID, maxAttempts, now).
		Order("created_at, order_id")
	if limit > 0 {
		pick = pick.Limit(limit)
	}
	if db.Dialector.Name() == "postgres" {
		pick = pick.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	// the outer filter repeats the lease check so a row claimed between
	// the pick and the update is left alone
	res := retryable(db.Model(&deliveryModel{}), eventID, maxAttempts, now).
		Where("order_id IN (?)", pick).
		Updates(map[string]any{
			"lease_until": now.Add(s.lease),
			"claim_token": token,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claim deliveries: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var rows []deliveryModel
	if err := db.Where("claim_token = ?", token).Order("created_at, order_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load claimed deliveries: %w", err)
	}
	return fromDeliveryModels(rows), nil
}

func retryable(q *gorm.DB, eventID string, maxAttempts int, now time.Time) *gorm.DB {
	q = q.Where("event_id = ?", eventID).
		Where("status IN ?", []string{string(domain.DeliveryQueued), string(domain.DeliveryFailed)}).
		Where("(lease_until IS NULL OR lease_until <= ?)", now)
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	return q
}

func fromDeliveryModels(rows []deliveryModel) []domain.Delivery {
	out := make([]domain.Delivery, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromDeliveryModel(r))
	}
	return out
}

func (s *Store) GetDelivery(ctx context.Context, orderID string) (domain.Delivery, error) {
	var m deliveryModel
	if err := s.db.WithContext(ctx).First(&m, "order_id = ?", orderID).Error; err != nil {
		return domain.Delivery{}, mapReadErr(err, "delivery "+orderID)
	}
	return fromDeliveryModel(m), nil
}

/* -------------------- Runs -------------------- */

func (s *Store) RecordRun(ctx context.Context, run domain.Run) error {
	report := run.ReportJSON
	if len(report) == 0 {
		report = []byte("{}")
	}
	failed := run.FailedEmails
	if failed == nil {
		failed = []string{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed emails: %w", err)
	}
	m := &runModel{
		ID:           run.ID,
		EventID:      run.EventID,
		TicketTypeID: run.TicketTypeID,
		InputName:    run.InputName,
		Report:       datatypes.JSON(report),
		FailedEmails: datatypes.JSON(failedJSON),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, mapWriteErr(err))
	}
	return nil
}

// LatestRun returns the most recently finished run for an event.
func (s *Store) LatestRun(ctx context.Context, eventID string) (domain.Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("finished_at DESC").
		First(&m).Error
	if err != nil {
		return domain.Run{}, mapReadErr(err, "run for event "+eventID)
	}
	run := domain.Run{
		ID:           m.ID,
		EventID:      m.EventID,
		TicketTypeID: m.TicketTypeID,
		InputName:    m.InputName,
		ReportJSON:   []byte(m.Report),
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
	if err := json.Unmarshal(m.FailedEmails, &run.FailedEmails); err != nil {
		return domain.Run{}, fmt.Errorf("decode failed emails: %w", err)
	}
	return run, nil
}

/* -------------------- Helpers -------------------- */

func classifyTxErr(parent, txCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransactionTimeout, err)
	}
	return err
}

func mapReadErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

func mapWriteErr(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
