// Command bulk-comp issues complimentary tickets for an event to every
// recipient in a CSV file and emails each of them.
//
// Usage:
//
//	bulk-comp [flags] <eventId> <csvFilePath>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/TropTix/troptix/pkg/app"
	"github.com/TropTix/troptix/pkg/config"
	"github.com/TropTix/troptix/pkg/csvinput"
	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/fulfillment"
	"github.com/TropTix/troptix/pkg/logger"
)

const serviceName = "bulk-comp"

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

type options struct {
	EventID        string
	CSVPath        string
	RetryOut       string
	WriteBatchSize int
	SendBatchSize  int
	Delay          time.Duration
}

type runner interface {
	Run(ctx context.Context, in fulfillment.Input) (fulfillment.Result, error)
}

// opener builds the pipeline for one invocation and returns its cleanup.
type opener func(ctx context.Context, opts options) (runner, func(), error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, openContainer)
	stop()
	logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, open opener) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		fmt.Fprintln(stderr, "Usage: bulk-comp [flags] <eventId> <csvFilePath>")
		fmt.Fprintln(stderr, "Example: bulk-comp ABC123XYZ recipients.csv")
		return exitUsage
	}

	fmt.Fprintln(stdout, "Starting bulk complimentary ticket creation...")
	fmt.Fprintf(stdout, "   Event ID: %s\n", opts.EventID)
	fmt.Fprintf(stdout, "   CSV File: %s\n\n", opts.CSVPath)

	records, err := csvinput.Load(opts.CSVPath)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal error: %v\n", err)
		fmt.Fprintf(stderr, "Required columns: %s\n", strings.Join(csvinput.RequiredColumns, ", "))
		return exitFatal
	}

	p, cleanup, err := open(ctx, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal error: %v\n", err)
		return exitFatal
	}
	defer cleanup()

	res, err := p.Run(ctx, fulfillment.Input{
		EventID:   opts.EventID,
		Records:   records,
		InputName: filepath.Base(opts.CSVPath),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Fatal error: %v\n", err)
		return exitFatal
	}

	if _, err := res.Report.WriteTo(stdout); err != nil {
		fmt.Fprintf(stderr, "Could not print summary: %v\n", err)
	}

	rows := retryRows(res)
	if len(rows) > 0 {
		path := opts.RetryOut
		if path == "" {
			path = defaultRetryPath(opts.CSVPath)
		}
		if err := csvinput.WriteRetryFile(path, rows); err != nil {
			fmt.Fprintf(stderr, "Could not write retry file: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "Retry file written: %s (%d recipients)\n", path, len(rows))
		}
	}
	return exitOK
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.RetryOut, "retry-out", "", "path for the CSV of recipients to retry (default <csv>-retry.csv)")
	fs.IntVar(&opts.WriteBatchSize, "batch-size", 0, "orders per transaction (default from WRITE_BATCH_SIZE)")
	fs.IntVar(&opts.SendBatchSize, "email-batch-size", 0, "emails per provider call, at most 100 (default from EMAIL_BATCH_SIZE)")
	fs.DurationVar(&opts.Delay, "delay", -1, "pause between email batches (default from EMAIL_BATCH_DELAY)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	rest := fs.Args()
	if len(rest) < 2 {
		return options{}, errors.New("missing required arguments")
	}
	opts.EventID = strings.TrimSpace(rest[0])
	opts.CSVPath = strings.TrimSpace(rest[1])
	if opts.EventID == "" || opts.CSVPath == "" {
		return options{}, errors.New("event id and csv path must not be empty")
	}
	if opts.SendBatchSize > 100 {
		return options{}, fmt.Errorf("email batch size %d exceeds the provider limit of 100", opts.SendBatchSize)
	}
	return opts, nil
}

func openContainer(ctx context.Context, opts options) (runner, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if opts.WriteBatchSize > 0 {
		cfg.WriteBatchSize = opts.WriteBatchSize
	}
	if opts.SendBatchSize > 0 {
		cfg.SendBatchSize = opts.SendBatchSize
	}
	if opts.Delay >= 0 {
		cfg.InterBatchDelay = opts.Delay
	}

	c, err := app.NewContainer(ctx, cfg, serviceName, logger.New(uuid.NewString()))
	if err != nil {
		return nil, nil, err
	}
	return c.Pipeline, func() { c.Close(context.WithoutCancel(ctx)) }, nil
}

func retryRows(res fulfillment.Result) []csvinput.RetryRow {
	rows := make([]csvinput.RetryRow, 0, len(res.WriteFailures)+len(res.SendFailures))
	add := func(rs []domain.Recipient, stage string) {
		for _, r := range rs {
			rows = append(rows, csvinput.RetryRow{Email: r.Email, FirstName: r.FirstName, LastName: r.LastName, Stage: stage})
		}
	}
	add(res.WriteFailures, "order")
	add(res.SendFailures, "email")
	return rows
}

func defaultRetryPath(csvPath string) string {
	ext := filepath.Ext(csvPath)
	return strings.TrimSuffix(csvPath, ext) + "-retry.csv"
}
