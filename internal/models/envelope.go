package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingJobID is returned when a message arrives without a job
// correlation id. Such messages are dropped, never processed.
var ErrMissingJobID = errors.New("message has no job_id")

// Envelope is the standardized message format threaded through every
// pipeline stage. The JobID is set once at ingestion and never changes;
// StepNumber increments once per stage boundary and exists only for
// diagnostics. Data carries the stage-specific payload as raw JSON -
// each producer/consumer pair decodes its own typed payload from it.
type Envelope struct {
	JobID      string          `json:"job_id"`
	StepNumber int             `json:"step_number"`
	Data       json.RawMessage `json:"data,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Prompt     string          `json:"prompt,omitempty"`
	Model      string          `json:"model,omitempty"`
}

// NewEnvelope creates an envelope with an initialized metadata map.
func NewEnvelope(jobID string, step int) *Envelope {
	return &Envelope{
		JobID:      jobID,
		StepNumber: step,
		Metadata:   make(map[string]any),
	}
}

// SetData marshals a typed payload into the envelope.
func (e *Envelope) SetData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode envelope data: %w", err)
	}
	e.Data = data
	return nil
}

// DecodeData unmarshals the envelope payload into a typed value.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return errors.New("envelope has no data")
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode envelope data: %w", err)
	}
	return nil
}

// Next creates the envelope for the following hop: same job id, step
// number incremented, metadata copied forward. Prompt and model hints
// are carried so the summarization stage sees per-job overrides.
func (e *Envelope) Next() *Envelope {
	out := &Envelope{
		JobID:      e.JobID,
		StepNumber: e.StepNumber + 1,
		Metadata:   make(map[string]any, len(e.Metadata)),
		Prompt:     e.Prompt,
		Model:      e.Model,
	}
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// SetMeta adds a metadata entry. Metadata accumulates across hops and
// is never removed.
func (e *Envelope) SetMeta(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}

// MetaString returns a metadata value as string, or "" if absent.
func (e *Envelope) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// ToJSON serializes the envelope for bus transport.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EnvelopeFromJSON decodes a bus payload into an envelope. Messages
// whose job id cannot be determined are rejected.
func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.JobID == "" {
		return nil, ErrMissingJobID
	}
	return &env, nil
}
