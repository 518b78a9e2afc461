package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/fulfillment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPipeline struct {
	runIn    fulfillment.Input
	runRes   fulfillment.Result
	runErr   error
	block    chan struct{}
	resendN  int
	resendFn func() (fulfillment.ResendResult, error)
}

func (s *stubPipeline) Run(_ context.Context, in fulfillment.Input) (fulfillment.Result, error) {
	s.runIn = in
	if s.block != nil {
		<-s.block
	}
	return s.runRes, s.runErr
}

func (s *stubPipeline) Resend(_ context.Context, _ string, limit int) (fulfillment.ResendResult, error) {
	s.resendN = limit
	if s.resendFn != nil {
		return s.resendFn()
	}
	return fulfillment.ResendResult{}, nil
}

type stubRuns map[string]domain.Run

func (s stubRuns) LatestRun(_ context.Context, eventID string) (domain.Run, error) {
	r, ok := s[eventID]
	if !ok {
		return domain.Run{}, fmt.Errorf("run for event %s: %w", eventID, domain.ErrNotFound)
	}
	return r, nil
}

func uploadRequest(t *testing.T, path, csv string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "guests.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(csv)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

const validCSV = "email,firstName,lastName\na@x.com,Ann,Lee\nb@x.com,Bo,Diaz\n"

func TestHealth(t *testing.T) {
	r := newRouter(&stubPipeline{}, stubRuns{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("health = %d %q", w.Code, w.Body.String())
	}
}

func TestCreateComplimentary(t *testing.T) {
	p := &stubPipeline{runRes: fulfillment.Result{
		RunID:         "run-1",
		TicketType:    domain.TicketType{ID: "tt-1"},
		Report:        fulfillment.BuildReport(fulfillment.ReportInput{Total: 2, Unique: 2, OrdersCreated: 1, Rendered: 1, EmailsSent: 1}),
		WriteFailures: []domain.Recipient{{Email: "b@x.com"}},
	}}
	r := newRouter(p, stubRuns{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/events/evt-1/complimentary", validCSV))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if p.runIn.EventID != "evt-1" || len(p.runIn.Records) != 2 || p.runIn.InputName != "guests.csv" {
		t.Fatalf("input = %+v", p.runIn)
	}

	var got runResp
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.TicketTypeID != "tt-1" || got.Report.OrdersFailed != 1 {
		t.Fatalf("response = %+v", got)
	}
	if len(got.RetryEmails) != 1 || got.RetryEmails[0] != "b@x.com" {
		t.Fatalf("retry emails = %v", got.RetryEmails)
	}
}

func TestCreateComplimentaryErrors(t *testing.T) {
	tests := []struct {
		name   string
		csv    string
		runErr error
		want   int
	}{
		{name: "missing column", csv: "email,firstName\na@x.com,Ann\n", want: http.StatusBadRequest},
		{name: "unknown event", csv: validCSV, runErr: fmt.Errorf("find event: %w", domain.ErrNotFound), want: http.StatusNotFound},
		{name: "ticket type exists", csv: validCSV, runErr: fmt.Errorf("%w: exists", domain.ErrConflict), want: http.StatusConflict},
		{name: "store down", csv: validCSV, runErr: errors.New("connection refused"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&stubPipeline{runErr: tc.runErr}, stubRuns{}, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, uploadRequest(t, "/events/evt-1/complimentary", tc.csv))
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestCreateComplimentaryRequiresFile(t *testing.T) {
	r := newRouter(&stubPipeline{}, stubRuns{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/evt-1/complimentary", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateComplimentaryRejectsConcurrentRun(t *testing.T) {
	p := &stubPipeline{block: make(chan struct{})}
	r := newRouter(p, stubRuns{}, nil)

	first := httptest.NewRecorder()
	req := uploadRequest(t, "/events/evt-1/complimentary", validCSV)
	done := make(chan struct{})
	go func() {
		r.ServeHTTP(first, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/evt-1/complimentary/resend", nil))
		if w.Code == http.StatusConflict {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second request never saw the run in progress")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(p.block)
	<-done
	if first.Code != http.StatusOK {
		t.Fatalf("first run status = %d", first.Code)
	}
}

func TestResend(t *testing.T) {
	p := &stubPipeline{resendFn: func() (fulfillment.ResendResult, error) {
		return fulfillment.ResendResult{Attempted: 3, Rendered: 3, Sent: 2, Failed: []string{"c@x.com"}}, nil
	}}
	r := newRouter(p, stubRuns{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/evt-1/complimentary/resend?limit=25", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if p.resendN != 25 {
		t.Fatalf("limit = %d, want 25", p.resendN)
	}
	var got resendResp
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sent != 2 || len(got.Failed) != 1 {
		t.Fatalf("response = %+v", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/evt-1/complimentary/resend?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", w.Code)
	}
}

func TestLatestRun(t *testing.T) {
	finished := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	runs := stubRuns{"evt-1": {
		ID:         "run-9",
		EventID:    "evt-1",
		ReportJSON: []byte(`{"emailsSent":4}`),
		FinishedAt: finished,
	}}
	r := newRouter(&stubPipeline{}, runs, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/evt-1/runs/latest", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got latestRunResp
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-9" || string(got.Report) != `{"emailsSent":4}` || !got.FinishedAt.Equal(finished) {
		t.Fatalf("response = %+v", got)
	}
	if got.FailedEmails == nil {
		t.Fatal("failed emails should encode as a list")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/evt-404/runs/latest", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing run status = %d, want 404", w.Code)
	}
}
