package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/interfaces"
	"github.com/marcwadey/granary/internal/models"
)

// Protocol selects how step updates are written to the tracker
// service. The service evolved through two incompatible shapes; "put"
// is canonical, "get-patch" is kept for legacy deployments.
type Protocol string

const (
	// ProtocolPut writes a single PUT keyed by (job_id, step_type).
	ProtocolPut Protocol = "put"
	// ProtocolGetPatch looks up the opaque step id for the job, then
	// PATCHes the step by id.
	ProtocolGetPatch Protocol = "get-patch"
)

// RemoteError is returned when the tracker responds with a non-2xx
// status after retries are exhausted.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tracker returned status %d: %s", e.StatusCode, e.Body)
}

// Client is an HTTP client for the external job-tracking service.
type Client struct {
	baseURL  string
	protocol Protocol
	client   *http.Client
	retries  int
	logger   arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.StatusTracker = (*Client)(nil)

// NewClient creates a tracker client. Retries apply to transport
// errors and gateway-style failures (502/503/504) only.
func NewClient(baseURL string, protocol Protocol, timeout time.Duration, retries int, logger arbor.ILogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retries < 0 {
		retries = 0
	}

	return &Client{
		baseURL:  baseURL,
		protocol: protocol,
		client:   &http.Client{Timeout: timeout},
		retries:  retries,
		logger:   logger,
	}
}

// UpdateStatus reports a step transition for a job.
func (c *Client) UpdateStatus(ctx context.Context, jobID string, step models.StepType, status models.StepStatus) error {
	c.logger.Info().
		Str("job_id", jobID).
		Str("step_type", step.ExternalName()).
		Str("status", status.String()).
		Msg("Updating job step status")

	var err error
	switch c.protocol {
	case ProtocolGetPatch:
		err = c.updateByStepID(ctx, jobID, step, status)
	default:
		err = c.updateByCompositeKey(ctx, jobID, step, status)
	}

	if err != nil {
		return fmt.Errorf("failed to update status for job %s: %w", jobID, err)
	}
	return nil
}

// updateByCompositeKey performs PUT /jobs/{job_id}/steps/{step_type}.
func (c *Client) updateByCompositeKey(ctx context.Context, jobID string, step models.StepType, status models.StepStatus) error {
	body := map[string]any{
		"job_id":    jobID,
		"step_type": step.ExternalName(),
		"status":    status.String(),
	}
	url := fmt.Sprintf("%s/jobs/%s/steps/%s", c.baseURL, jobID, step.ExternalName())
	_, err := c.doJSON(ctx, http.MethodPut, url, body)
	return err
}

// stepRecord is one entry of the legacy GET /steps/job/{job_id} response.
type stepRecord struct {
	ID       string `json:"id"`
	StepType string `json:"step_type"`
}

// updateByStepID performs the legacy two-call GET-then-PATCH flow.
func (c *Client) updateByStepID(ctx context.Context, jobID string, step models.StepType, status models.StepStatus) error {
	stepID, err := c.fetchStepID(ctx, jobID, step)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/steps/%s", c.baseURL, stepID)
	_, err = c.doJSON(ctx, http.MethodPatch, url, map[string]any{"status": status.String()})
	return err
}

// fetchStepID resolves the tracker's opaque step id for a
// (job, step_type) pair.
func (c *Client) fetchStepID(ctx context.Context, jobID string, step models.StepType) (string, error) {
	url := fmt.Sprintf("%s/steps/job/%s", c.baseURL, jobID)
	data, err := c.doJSON(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	var steps []stepRecord
	if err := json.Unmarshal(data, &steps); err != nil {
		return "", fmt.Errorf("failed to decode steps for job %s: %w", jobID, err)
	}

	for _, s := range steps {
		if s.StepType == step.ExternalName() {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("no step of type %s found for job %s", step.ExternalName(), jobID)
}

// retryableStatus reports whether an HTTP status warrants a retry.
func retryableStatus(code int) bool {
	return code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// doJSON executes one JSON request with bounded retries and backoff.
func (c *Client) doJSON(ctx context.Context, method, url string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 250 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn().
				Err(err).
				Str("url", url).
				Int("attempt", attempt+1).
				Msg("Tracker request failed")
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		lastErr = &RemoteError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if !retryableStatus(resp.StatusCode) {
			return nil, lastErr
		}

		c.logger.Warn().
			Str("url", url).
			Int("status", resp.StatusCode).
			Int("attempt", attempt+1).
			Msg("Tracker returned retryable status")
	}

	return nil, lastErr
}
