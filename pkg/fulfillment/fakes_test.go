package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/mailer"
)

type fakeStore struct {
	mu sync.Mutex

	events      map[string]domain.Event
	ticketTypes map[string]domain.TicketType
	orders      map[string]domain.OrderDetail
	deliveries  map[string]domain.Delivery
	runs        []domain.Run

	txCalls int
	// txErr fails the n-th transaction (1-based) before commit.
	txErr map[int]error
	// failEmail makes CreateOrderWithTicket fail for this address.
	failEmail string
	// hidden orders are committed but invisible to FindOrderDetailed.
	hidden map[string]bool
	// lagging orders are reported missing for this many reads first.
	lagging   map[string]int
	findCalls map[string]int

	createTicketTypeCalls int
	markErr               error
	recordErr             error

	// clock and lease drive delivery ownership.
	clock time.Time
	lease time.Duration
}

func newFakeStore() *fakeStore {
	start := time.Date(2026, time.March, 14, 23, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)
	return &fakeStore{
		events: map[string]domain.Event{
			"evt-1": {ID: "evt-1", Name: "Carnival Fete", StartDate: start, EndDate: &end},
		},
		ticketTypes: map[string]domain.TicketType{},
		orders:      map[string]domain.OrderDetail{},
		deliveries:  map[string]domain.Delivery{},
		txErr:       map[int]error{},
		hidden:      map[string]bool{},
		lagging:     map[string]int{},
		findCalls:   map[string]int{},
		clock:       start.Add(-30 * 24 * time.Hour),
		lease:       30 * time.Minute,
	}
}

func (s *fakeStore) FindEvent(_ context.Context, id string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (s *fakeStore) FindTicketTypeByName(_ context.Context, eventID, name string) (domain.TicketType, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tt := range s.ticketTypes {
		if tt.EventID == eventID && tt.Name == name {
			return tt, true, nil
		}
	}
	return domain.TicketType{}, false, nil
}

func (s *fakeStore) CreateTicketType(_ context.Context, t domain.TicketType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createTicketTypeCalls++
	s.ticketTypes[t.ID] = t
	return nil
}

func (s *fakeStore) RunInTx(_ context.Context, _ domain.TxOptions, fn func(domain.OrderWriter) error) error {
	s.mu.Lock()
	s.txCalls++
	n := s.txCalls
	s.mu.Unlock()

	w := &fakeWriter{store: s}
	if err := fn(w); err != nil {
		return err
	}
	if err := s.txErr[n]; err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.clock.Add(s.lease)
	for _, o := range w.orders {
		s.orders[o.ID] = o
		s.deliveries[o.ID] = domain.Delivery{OrderID: o.ID, EventID: o.EventID, Email: o.Email, Status: domain.DeliveryQueued, LeaseUntil: &until}
	}
	for id, delta := range w.sold {
		tt := s.ticketTypes[id]
		tt.QuantitySold += delta
		s.ticketTypes[id] = tt
	}
	return nil
}

type fakeWriter struct {
	store  *fakeStore
	orders []domain.OrderDetail
	sold   map[string]int
}

func (w *fakeWriter) CreateOrderWithTicket(order domain.Order, ticket domain.Ticket) error {
	if w.store.failEmail != "" && order.Email == w.store.failEmail {
		return errors.New("constraint violation")
	}
	w.store.mu.Lock()
	event := w.store.events[order.EventID]
	tt := w.store.ticketTypes[ticket.TicketTypeID]
	w.store.mu.Unlock()
	w.orders = append(w.orders, domain.OrderDetail{
		Order:   order,
		Event:   event,
		Tickets: []domain.TicketDetail{{Ticket: ticket, TicketType: &tt}},
	})
	return nil
}

func (w *fakeWriter) IncrementQuantitySold(ticketTypeID string, delta int) error {
	if w.sold == nil {
		w.sold = map[string]int{}
	}
	w.sold[ticketTypeID] += delta
	return nil
}

func (s *fakeStore) FindOrderDetailed(_ context.Context, id string) (domain.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls[id]++
	if s.lagging[id] > 0 {
		s.lagging[id]--
		return domain.OrderDetail{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	d, ok := s.orders[id]
	if !ok || s.hidden[id] {
		return domain.OrderDetail{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

func (s *fakeStore) MarkDeliveries(_ context.Context, ids []string, status domain.DeliveryStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for _, id := range ids {
		d := s.deliveries[id]
		d.Status = status
		d.AttemptCount++
		d.LastError = lastError
		d.LeaseUntil = nil
		s.deliveries[id] = d
	}
	return nil
}

func (s *fakeStore) ClaimRetryableDeliveries(_ context.Context, eventID string, maxAttempts, limit int) ([]domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.deliveries))
	for id := range s.deliveries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	until := s.clock.Add(s.lease)
	var out []domain.Delivery
	for _, id := range ids {
		d := s.deliveries[id]
		if d.EventID != eventID || d.AttemptCount >= maxAttempts {
			continue
		}
		if d.Status != domain.DeliveryQueued && d.Status != domain.DeliveryFailed {
			continue
		}
		if d.LeaseUntil != nil && d.LeaseUntil.After(s.clock) {
			continue
		}
		d.LeaseUntil = &until
		s.deliveries[id] = d
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// expireLeases moves the clock past every lease handed out so far.
func (s *fakeStore) expireLeases() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(s.lease + time.Second)
}

func (s *fakeStore) RecordRun(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) soldFor(name string) (domain.TicketType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tt := range s.ticketTypes {
		if tt.Name == name {
			return tt, true
		}
	}
	return domain.TicketType{}, false
}

type fakeRenderer struct {
	calls   int
	failFor map[string]bool
}

func (r *fakeRenderer) Render(_ context.Context, d domain.OrderDetail) (string, error) {
	r.calls++
	if r.failFor[d.ID] {
		return "", errors.New("template exploded")
	}
	return "<p>" + d.Email + "</p>", nil
}

type fakeSender struct {
	batches [][]mailer.Message
	// failCall fails the n-th SendBatch call (1-based).
	failCall map[int]error
	// onSend runs inside the n-th SendBatch call, before it returns.
	onSend func(n int)
}

func (s *fakeSender) SendBatch(_ context.Context, msgs []mailer.Message) error {
	s.batches = append(s.batches, msgs)
	if s.onSend != nil {
		s.onSend(len(s.batches))
	}
	if err := s.failCall[len(s.batches)]; err != nil {
		return err
	}
	return nil
}

func (s *fakeSender) sentCount() int {
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type sleepRecorder struct {
	calls []time.Duration
	err   error
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return r.err
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}
