package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/TropTix/troptix/pkg/app"
	"github.com/TropTix/troptix/pkg/config"
	"github.com/TropTix/troptix/pkg/fulfillment"
	"github.com/TropTix/troptix/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	ctx := context.Background()

	c, err := app.NewContainer(ctx, cfg, "bulk-comp-gateway", logger.New(uuid.NewString()))
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close(ctx)

	r := newRouter(c.Pipeline, c.Store, c.Log)
	logger.Info("gateway listening on :%s", cfg.HTTPPort)
	if err := r.Run(":" + cfg.HTTPPort); err != nil {
		panic(err)
	}
}

/* -------------------- Response DTOs -------------------- */

type runResp struct {
	Status       string             `json:"status"`
	RunID        string             `json:"runId"`
	TicketTypeID string             `json:"ticketTypeId"`
	Report       fulfillment.Report `json:"report"`
	RetryEmails  []string           `json:"retryEmails"`
}

type resendResp struct {
	Attempted int      `json:"attempted"`
	Rendered  int      `json:"rendered"`
	Sent      int      `json:"sent"`
	Failed    []string `json:"failed"`
}

type latestRunResp struct {
	RunID        string          `json:"runId"`
	EventID      string          `json:"eventId"`
	TicketTypeID string          `json:"ticketTypeId"`
	InputName    string          `json:"inputName"`
	Report       json.RawMessage `json:"report"`
	FailedEmails []string        `json:"failedEmails"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
}
