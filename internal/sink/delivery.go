package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

// Options configure the delivery sink.
type Options struct {
	URL     string
	Timeout time.Duration
	Retries int
}

// payload is one delivered record. Timestamps are stamped at delivery
// time; the receiver treats the pair as creation on first sight.
type payload struct {
	JobID     string          `json:"job_id"`
	Data      json.RawMessage `json:"data"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// Delivery posts terminal pipeline batches to an external HTTP
// endpoint as a JSON array, retrying transient failures.
type Delivery struct {
	url     string
	client  *http.Client
	retries int
	logger  arbor.ILogger
}

// NewDelivery creates the sink.
func NewDelivery(opts Options, logger arbor.ILogger) (*Delivery, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("sink url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	return &Delivery{
		url:     opts.URL,
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		logger:  logger,
	}, nil
}

// Deliver posts one job's batch. The whole batch succeeds or fails as
// a unit.
func (d *Delivery) Deliver(ctx context.Context, jobID string, batch []*models.Envelope) error {
	if len(batch) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	payloads := make([]payload, 0, len(batch))
	for _, env := range batch {
		payloads = append(payloads, payload{
			JobID:     env.JobID,
			Data:      env.Data,
			Metadata:  env.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("failed to encode delivery batch: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		lastErr = d.post(ctx, body)
		if lastErr == nil {
			d.logger.Info().
				Str("job_id", jobID).
				Int("records", len(payloads)).
				Msg("Delivered batch")
			return nil
		}
		if !retryable(lastErr) {
			break
		}
		d.logger.Warn().
			Err(lastErr).
			Str("job_id", jobID).
			Int("attempt", attempt+1).
			Msg("Delivery attempt failed")
	}

	return fmt.Errorf("failed to deliver batch for job %s: %w", jobID, lastErr)
}

// post performs one delivery attempt.
func (d *Delivery) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{code: resp.StatusCode, body: string(detail)}
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("sink returned status %d: %s", e.code, e.body)
}

// retryable reports whether a delivery error is worth another attempt:
// network failures and server-side errors are, client errors are not.
func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code >= 500
	}
	if _, ok := err.(*transportError); ok {
		return true
	}
	return false
}
