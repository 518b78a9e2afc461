package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TropTix/troptix/pkg/csvinput"
	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/fulfillment"
)

type stubRunner struct {
	got fulfillment.Input
	res fulfillment.Result
	err error
}

func (s *stubRunner) Run(_ context.Context, in fulfillment.Input) (fulfillment.Result, error) {
	s.got = in
	return s.res, s.err
}

func openStub(r *stubRunner, seen *options) opener {
	return func(_ context.Context, opts options) (runner, func(), error) {
		if seen != nil {
			*seen = opts
		}
		return r, func() {}, nil
	}
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guests.csv")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestRunUsageErrors(t *testing.T) {
	tests := [][]string{
		nil,
		{"evt-1"},
		{"-email-batch-size", "150", "evt-1", "guests.csv"},
		{"-bogus", "evt-1", "guests.csv"},
	}
	for _, args := range tests {
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), args, &stdout, &stderr, openStub(&stubRunner{}, nil))
		if code != exitUsage {
			t.Errorf("run(%q) = %d, want %d", args, code, exitUsage)
		}
	}
}

func TestRunFatalInput(t *testing.T) {
	path := writeCSV(t, "email,firstName\na@x.com,Ann\n")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"evt-1", path}, &stdout, &stderr, openStub(&stubRunner{}, nil))
	if code != exitFatal {
		t.Fatalf("code = %d, want %d", code, exitFatal)
	}
	if !strings.Contains(stderr.String(), "Required columns: email, firstName, lastName") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunPipelineFatalError(t *testing.T) {
	path := writeCSV(t, "email,firstName,lastName\na@x.com,Ann,Lee\n")
	r := &stubRunner{err: fmt.Errorf("find event: %w", domain.ErrNotFound)}

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"evt-404", path}, &stdout, &stderr, openStub(r, nil))
	if code != exitFatal {
		t.Fatalf("code = %d, want %d", code, exitFatal)
	}
	if !strings.Contains(stderr.String(), "not found") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunOpenError(t *testing.T) {
	path := writeCSV(t, "email,firstName,lastName\na@x.com,Ann,Lee\n")
	open := func(context.Context, options) (runner, func(), error) {
		return nil, nil, errors.New("missing required env: DB_DSN")
	}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"evt-1", path}, &stdout, &stderr, open); code != exitFatal {
		t.Fatalf("code = %d, want %d", code, exitFatal)
	}
}

func TestRunPrintsSummaryAndWritesRetryFile(t *testing.T) {
	path := writeCSV(t, "email,firstName,lastName\na@x.com,Ann,Lee\nb@x.com,Bo,Diaz\nc@x.com,Cy,Roe\n")
	retry := filepath.Join(t.TempDir(), "retry.csv")
	r := &stubRunner{res: fulfillment.Result{
		Report: fulfillment.BuildReport(fulfillment.ReportInput{
			Total: 3, Unique: 3, OrdersCreated: 2, Rendered: 2, EmailsSent: 1,
			FailedEmails: []string{"c@x.com"},
		}),
		WriteFailures: []domain.Recipient{{Email: "b@x.com", FirstName: "Bo", LastName: "Diaz"}},
		SendFailures:  []domain.Recipient{{Email: "c@x.com", FirstName: "Cy", LastName: "Roe"}},
	}}
	var seen options

	var stdout, stderr bytes.Buffer
	args := []string{"-retry-out", retry, "-batch-size", "10", "-delay", "0s", "evt-1", path}
	code := run(context.Background(), args, &stdout, &stderr, openStub(r, &seen))
	if code != exitOK {
		t.Fatalf("code = %d, stderr = %s", code, stderr.String())
	}

	if r.got.EventID != "evt-1" || len(r.got.Records) != 3 || r.got.InputName != "guests.csv" {
		t.Fatalf("input = %+v", r.got)
	}
	if seen.WriteBatchSize != 10 || seen.Delay != 0 || seen.SendBatchSize != 0 {
		t.Fatalf("options = %+v", seen)
	}
	if !strings.Contains(stdout.String(), "SUMMARY") || !strings.Contains(stdout.String(), "   - c@x.com") {
		t.Fatalf("stdout = %s", stdout.String())
	}

	rows, err := csvinput.Load(retry)
	if err != nil {
		t.Fatalf("load retry file: %v", err)
	}
	if len(rows) != 2 || rows[0].Email != "b@x.com" || rows[1].Email != "c@x.com" {
		t.Fatalf("retry rows = %+v", rows)
	}
}

func TestRunCleanRunWritesNoRetryFile(t *testing.T) {
	path := writeCSV(t, "email,firstName,lastName\na@x.com,Ann,Lee\n")
	r := &stubRunner{res: fulfillment.Result{
		Report: fulfillment.BuildReport(fulfillment.ReportInput{Total: 1, Unique: 1, OrdersCreated: 1, Rendered: 1, EmailsSent: 1}),
	}}
	var seen options

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"evt-1", path}, &stdout, &stderr, openStub(r, &seen)); code != exitOK {
		t.Fatalf("code = %d", code)
	}
	if seen.Delay >= 0 {
		t.Fatalf("delay = %s, want unset", seen.Delay)
	}
	if _, err := os.Stat(defaultRetryPath(path)); !os.IsNotExist(err) {
		t.Fatalf("retry file exists: %v", err)
	}
}

func TestDefaultRetryPath(t *testing.T) {
	if got := defaultRetryPath("/tmp/guests.csv"); got != "/tmp/guests-retry.csv" {
		t.Fatalf("got %q", got)
	}
}
