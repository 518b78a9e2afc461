package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/TropTix/troptix/pkg/csvinput"
	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/fulfillment"
	"github.com/TropTix/troptix/pkg/logger"
)

const defaultResendLimit = 500

type pipeline interface {
	Run(ctx context.Context, in fulfillment.Input) (fulfillment.Result, error)
	Resend(ctx context.Context, eventID string, limit int) (fulfillment.ResendResult, error)
}

type runStore interface {
	LatestRun(ctx context.Context, eventID string) (domain.Run, error)
}

type server struct {
	p    pipeline
	runs runStore
	log  logger.Logger
	// busy allows one run or resend at a time per process.
	busy sync.Mutex
}

func newRouter(p pipeline, runs runStore, log logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	s := &server{p: p, runs: runs, log: log}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AllowHeaders = []string{"Content-Type", "Authorization"}
	c.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(c))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	events := r.Group("/events/:eventId")
	events.POST("/complimentary", s.createComplimentary)
	events.POST("/complimentary/resend", s.resend)
	events.GET("/runs/latest", s.latestRun)
	return r
}

func (s *server) createComplimentary(c *gin.Context) {
	eventID := strings.TrimSpace(c.Param("eventId"))

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload: " + err.Error()})
		return
	}
	defer f.Close()

	records, err := csvinput.Decode(f)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "requiredColumns": csvinput.RequiredColumns})
		return
	}

	if !s.busy.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	defer s.busy.Unlock()

	// A dropped client must not abort a run halfway through its batches.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := s.p.Run(ctx, fulfillment.Input{EventID: eventID, Records: records, InputName: fh.Filename})
	if err != nil {
		s.log.Error("run for event %s failed: %v", eventID, err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	retry := make([]string, 0, len(res.WriteFailures)+len(res.SendFailures))
	for _, r := range res.WriteFailures {
		retry = append(retry, r.Email)
	}
	for _, r := range res.SendFailures {
		retry = append(retry, r.Email)
	}
	c.JSON(http.StatusOK, runResp{
		Status:       "COMPLETED",
		RunID:        res.RunID,
		TicketTypeID: res.TicketType.ID,
		Report:       res.Report,
		RetryEmails:  retry,
	})
}

func (s *server) resend(c *gin.Context) {
	eventID := strings.TrimSpace(c.Param("eventId"))
	limit := defaultResendLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	if !s.busy.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	defer s.busy.Unlock()

	res, err := s.p.Resend(context.WithoutCancel(c.Request.Context()), eventID, limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	failed := res.Failed
	if failed == nil {
		failed = []string{}
	}
	c.JSON(http.StatusOK, resendResp{Attempted: res.Attempted, Rendered: res.Rendered, Sent: res.Sent, Failed: failed})
}

func (s *server) latestRun(c *gin.Context) {
	run, err := s.runs.LatestRun(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	failed := run.FailedEmails
	if failed == nil {
		failed = []string{}
	}
	c.JSON(http.StatusOK, latestRunResp{
		RunID:        run.ID,
		EventID:      run.EventID,
		TicketTypeID: run.TicketTypeID,
		InputName:    run.InputName,
		Report:       run.ReportJSON,
		FailedEmails: failed,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFatalInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
