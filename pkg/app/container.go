// Package app wires configuration, storage, delivery and tracing into a
// ready-to-run fulfillment pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/TropTix/troptix/pkg/config"
	"github.com/TropTix/troptix/pkg/db"
	"github.com/TropTix/troptix/pkg/fulfillment"
	"github.com/TropTix/troptix/pkg/logger"
	"github.com/TropTix/troptix/pkg/mailer"
	"github.com/TropTix/troptix/pkg/mailer/httpbatch"
	"github.com/TropTix/troptix/pkg/mailer/kafka"
	"github.com/TropTix/troptix/pkg/render"
	"github.com/TropTix/troptix/pkg/store"
	"github.com/TropTix/troptix/pkg/telemetry"
)

const (
	ProviderHTTP  = "http"
	ProviderKafka = "kafka"
)

var ErrUnknownProvider = errors.New("unknown delivery provider")

// Container holds the long-lived resources shared by every command.
type Container struct {
	Config   config.Config
	Log      logger.Logger
	DB       *gorm.DB
	Store    *store.Store
	Pipeline *fulfillment.Pipeline

	closers []func(context.Context) error
}

// NewContainer opens the database, migrates it, builds the delivery sender
// and returns a pipeline ready to run.
func NewContainer(ctx context.Context, cfg config.Config, serviceName string, log logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Container{Config: cfg, Log: log}

	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		log.Warn("Tracing disabled: %v", err)
	}
	c.closers = append(c.closers, shutdown)

	gdb, err := db.Open(cfg)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("open database: %w", err)
	}
	c.DB = gdb
	c.closers = append(c.closers, func(context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	c.Store = store.New(gdb, store.WithDeliveryLease(cfg.DeliveryLease))
	if err := c.Store.Migrate(ctx); err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	renderer, err := render.New(cfg.BaseURL)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("load templates: %w", err)
	}

	sender, closeSender, err := NewSender(cfg)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.closers = append(c.closers, closeSender)

	p, err := fulfillment.New(cfg.Fulfillment(), c.Store, renderer, sender, log)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Pipeline = p
	return c, nil
}

// NewSender builds the configured email delivery backend.
func NewSender(cfg config.Config) (mailer.Sender, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch strings.ToLower(strings.TrimSpace(cfg.DeliveryProvider)) {
	case "", ProviderHTTP:
		return httpbatch.New(httpbatch.Config{URL: cfg.EmailAPIURL, APIKey: cfg.EmailAPIKey}), noop, nil
	case ProviderKafka:
		prod, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, noop, fmt.Errorf("kafka producer: %w", err)
		}
		s := kafka.New(prod, cfg.KafkaTopic)
		return s, func(context.Context) error { return s.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.DeliveryProvider)
	}
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			c.Log.Warn("Shutdown: %v", err)
		}
	}
	c.closers = nil
}
