// Package kafka hands email batches to the notification hub topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/TropTix/troptix/pkg/mailer"
)

// dispatchEvent is what the email service consumes from the topic.
type dispatchEvent struct {
	EventID   string    `json:"eventId"`
	Channel   string    `json:"channel"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Attempt   int       `json:"attempt"`
}

// NewProducer builds an idempotent sync producer.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return prod, nil
}

type Sender struct {
	prod  sarama.SyncProducer
	topic string
	now   func() time.Time
}

func New(prod sarama.SyncProducer, topic string) *Sender {
	return &Sender{prod: prod, topic: topic, now: time.Now}
}

// SendBatch publishes every message in one SendMessages call. If any message
// is rejected the batch is reported as failed.
func (s *Sender) SendBatch(ctx context.Context, msgs []mailer.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) > mailer.MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds provider limit %d", len(msgs), mailer.MaxBatchSize)
	}

	out := make([]*sarama.ProducerMessage, 0, len(msgs))
	now := s.now().UTC()
	for _, m := range msgs {
		payload, err := json.Marshal(dispatchEvent{
			EventID:   uuid.NewString(),
			Channel:   "EMAIL",
			From:      m.From,
			To:        []string{m.To},
			Title:     m.Subject,
			Content:   m.HTML,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("marshal dispatch event: %w", err)
		}
		out = append(out, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(m.To),
			Value: sarama.ByteEncoder(payload),
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- s.prod.SendMessages(out)
	}()
	select {
	case <-ctx.Done():
		return mailer.Temporary(ctx.Err())
	case err := <-done:
		if err == nil {
			return nil
		}
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return mailer.Temporary(fmt.Errorf("%d of %d messages rejected: %w", len(perrs), len(out), err))
		}
		return mailer.Temporary(err)
	}
}

func (s *Sender) Close() error {
	return s.prod.Close()
}
