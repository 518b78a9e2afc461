package fulfillment

import (
	"fmt"
	"time"

	"github.com/TropTix/troptix/pkg/domain"
	"github.com/TropTix/troptix/pkg/mailer"
)

const (
	DefaultWriteBatchSize      = 50
	DefaultSendBatchSize       = mailer.MaxBatchSize
	DefaultInterBatchDelay     = time.Second
	DefaultFrom                = "TropTix <info@usetroptix.com>"
	DefaultRefetchAttempts     = 3
	DefaultRefetchBackoff      = 200 * time.Millisecond
	DefaultMaxDeliveryAttempts = 5

	// FailedDisplayLimit caps the failed addresses listed in a printed report.
	FailedDisplayLimit = 10
	// DuplicatePreviewLimit caps the duplicate addresses echoed to the log.
	DuplicatePreviewLimit = 5
)

// Config holds the pipeline settings. Zero sizes, timeouts and attempt
// counts fall back to the defaults; a zero InterBatchDelay means no pause.
type Config struct {
	WriteBatchSize      int
	SendBatchSize       int
	InterBatchDelay     time.Duration
	TxAcquireTimeout    time.Duration
	TxTotalTimeout      time.Duration
	From                string
	RefetchAttempts     int
	RefetchBackoff      time.Duration
	MaxDeliveryAttempts int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		WriteBatchSize:      DefaultWriteBatchSize,
		SendBatchSize:       DefaultSendBatchSize,
		InterBatchDelay:     DefaultInterBatchDelay,
		TxAcquireTimeout:    domain.DefaultTxAcquireTimeout,
		TxTotalTimeout:      domain.DefaultTxTotalTimeout,
		From:                DefaultFrom,
		RefetchAttempts:     DefaultRefetchAttempts,
		RefetchBackoff:      DefaultRefetchBackoff,
		MaxDeliveryAttempts: DefaultMaxDeliveryAttempts,
	}
}

func (c Config) normalized() (Config, error) {
	if c.WriteBatchSize <= 0 {
		c.WriteBatchSize = DefaultWriteBatchSize
	}
	if c.SendBatchSize <= 0 {
		c.SendBatchSize = DefaultSendBatchSize
	}
	if c.SendBatchSize > mailer.MaxBatchSize {
		return Config{}, fmt.Errorf("send batch size %d exceeds provider limit %d", c.SendBatchSize, mailer.MaxBatchSize)
	}
	if c.InterBatchDelay < 0 {
		c.InterBatchDelay = 0
	}
	if c.TxAcquireTimeout <= 0 {
		c.TxAcquireTimeout = domain.DefaultTxAcquireTimeout
	}
	if c.TxTotalTimeout <= 0 {
		c.TxTotalTimeout = domain.DefaultTxTotalTimeout
	}
	if c.From == "" {
		c.From = DefaultFrom
	}
	if c.RefetchAttempts <= 0 {
		c.RefetchAttempts = DefaultRefetchAttempts
	}
	if c.RefetchBackoff < 0 {
		c.RefetchBackoff = 0
	}
	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = DefaultMaxDeliveryAttempts
	}
	return c, nil
}

func (c Config) txOptions() domain.TxOptions {
	return domain.TxOptions{AcquireTimeout: c.TxAcquireTimeout, TotalTimeout: c.TxTotalTimeout}
}
