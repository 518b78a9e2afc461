// Package httpbatch delivers email batches through a Resend-style HTTP API.
package httpbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TropTix/troptix/pkg/mailer"
)

const DefaultURL = "https://api.resend.com/emails/batch"

// Config configures the batch endpoint and HTTP behavior.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

type Sender struct {
	cfg Config
}

// New builds a batch sender. A nil HTTPClient gets a 30s timeout client.
func New(cfg Config) *Sender {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	return &Sender{cfg: cfg}
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

type batchResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Error *errorBody `json:"error"`
}

// SendBatch posts msgs as one JSON array. Any transport error, non-2xx status
// or error body fails the whole batch. Transport errors, 429 and 5xx are
// temporary; every other failure is a permanent rejection.
func (s *Sender) SendBatch(ctx context.Context, msgs []mailer.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) > mailer.MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds provider limit %d", len(msgs), mailer.MaxBatchSize)
	}
	apiKey := strings.TrimSpace(s.cfg.APIKey)
	if apiKey == "" {
		return fmt.Errorf("email api key is required")
	}

	body, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return mailer.Temporary(fmt.Errorf("batch request failed: %w", err))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return mailer.Temporary(fmt.Errorf("read batch response: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var serr error
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
			serr = fmt.Errorf("batch request status %d: %s: %s", res.StatusCode, eb.Name, eb.Message)
		} else {
			serr = fmt.Errorf("batch request status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
		}
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			return mailer.Temporary(serr)
		}
		return serr
	}

	var out batchResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode batch response: %w", err)
		}
	}
	if out.Error != nil {
		return fmt.Errorf("batch rejected: %s: %s", out.Error.Name, out.Error.Message)
	}
	return nil
}
