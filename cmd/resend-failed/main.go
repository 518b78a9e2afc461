// Command resend-failed re-delivers complimentary ticket emails whose
// delivery is still QUEUED or FAILED.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/TropTix/troptix/pkg/app"
	"github.com/TropTix/troptix/pkg/config"
	"github.com/TropTix/troptix/pkg/fulfillment"
	"github.com/TropTix/troptix/pkg/logger"
)

type resender interface {
	Resend(ctx context.Context, eventID string, limit int) (fulfillment.ResendResult, error)
}

type pollConfig struct {
	EventID string
	Limit   int
	Tick    time.Duration
	Once    bool

	// sleep pauses between rounds; nil uses sleepCtx.
	sleep func(ctx context.Context, d time.Duration) bool
}

func main() {
	var pc pollConfig
	fs := flag.NewFlagSet("resend-failed", flag.ExitOnError)
	fs.StringVar(&pc.EventID, "event", "", "event id whose deliveries should be retried (required)")
	fs.IntVar(&pc.Limit, "limit", 100, "deliveries claimed per round")
	fs.DurationVar(&pc.Tick, "interval", 30*time.Second, "pause when nothing is left to retry")
	fs.BoolVar(&pc.Once, "once", false, "run a single round and exit")
	_ = fs.Parse(os.Args[1:])
	if pc.EventID == "" {
		fmt.Fprintln(os.Stderr, "Usage: resend-failed -event <eventId> [-limit N] [-interval D] [-once]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.New(uuid.NewString())
	c, err := app.NewContainer(ctx, config.MustLoad(), "resend-failed", log)
	if err != nil {
		logger.Fatal("resend-failed: %v", err)
	}
	defer c.Close(context.WithoutCancel(ctx))

	if err := pollLoop(ctx, c.Pipeline, pc, log, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("resend-failed: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// pollLoop runs resend rounds until nothing is left, the context ends or,
// with Once set, after the first round. Each consecutive round that still
// leaves failures backs off longer; a clean or idle round resets the backoff.
func pollLoop(ctx context.Context, r resender, pc pollConfig, log logger.Logger, out io.Writer) error {
	ticker := time.NewTicker(pc.Tick)
	defer ticker.Stop()
	sleep := pc.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	failures := 0
	for round := 0; ; round++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := r.Resend(ctx, pc.EventID, pc.Limit)
		if err != nil {
			log.Error("could not resend batch: %v", err)
			if pc.Once {
				return err
			}
			if !sleep(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if res.Attempted > 0 {
			fmt.Fprintf(out, "round %d: attempted %d, rendered %d, sent %d, failed %d\n",
				round+1, res.Attempted, res.Rendered, res.Sent, len(res.Failed))
		}
		if pc.Once {
			return nil
		}

		switch {
		case res.Attempted == 0:
			failures = 0
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		case len(res.Failed) > 0:
			if !sleep(ctx, backoff(failures)) {
				return ctx.Err()
			}
			failures++
		default:
			failures = 0
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func backoff(attempt int) time.Duration {
	// 1, 2, 4, 8 ... seconds plus jitter, capped at 5 minutes
	if attempt > 9 {
		attempt = 9
	}
	sec := 1 << attempt
	if sec > 300 {
		sec = 300
	}
	jitter := time.Duration(100+randInt(0, 400)) * time.Millisecond
	return time.Duration(sec)*time.Second + jitter
}

func randInt(min, max int) int {
	return min + int(time.Now().UnixNano()%int64(max-min+1))
}
