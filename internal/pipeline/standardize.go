package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/marcwadey/granary/internal/models"
)

// StandardizeIntake converts a raw database-change event from the
// resource intake topic into the first-hop envelope. The job id comes
// from the triggering event; prompt/model hints are copied so they
// reach the summarization stage.
func StandardizeIntake(body []byte, topic string) (*models.Envelope, error) {
	var event models.ResourceEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode resource event: %w", err)
	}
	if event.JobID == "" {
		return nil, models.ErrMissingJobID
	}

	env := models.NewEnvelope(event.JobID, 1)
	if err := env.SetData(event); err != nil {
		return nil, err
	}
	env.SetMeta(models.MetaOriginalTopic, topic)
	env.Prompt = event.Prompt
	env.Model = event.Model
	return env, nil
}

// StandardizeHop decodes an envelope arriving from an upstream stage
// and re-creates it for this hop: step number incremented, metadata
// carried forward with the origin topic recorded.
func StandardizeHop(body []byte, topic string) (*models.Envelope, error) {
	env, err := models.EnvelopeFromJSON(body)
	if err != nil {
		return nil, err
	}

	next := env.Next()
	next.Data = env.Data
	next.SetMeta(models.MetaOriginalTopic, topic)
	return next, nil
}
