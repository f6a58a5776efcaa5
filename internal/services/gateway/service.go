package gateway

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

// Service is the intake router: it inspects each resource event's type
// and tags the envelope with the topic its fetch service listens on.
// Events with an unrecognized resource type are rejected so the job's
// gateway step reads FAILED instead of the event vanishing silently.
type Service struct {
	routes map[string]string
	logger arbor.ILogger
}

// NewService creates a gateway routing resource types to topics.
func NewService(routes map[string]string, logger arbor.ILogger) *Service {
	return &Service{
		routes: routes,
		logger: logger,
	}
}

// Name returns the gateway step type.
func (s *Service) Name() models.StepType {
	return models.StepTypeGateway
}

// Process routes one resource event to its per-type topic.
func (s *Service) Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error) {
	var event models.ResourceEvent
	if err := msg.DecodeData(&event); err != nil {
		return nil, fmt.Errorf("failed to decode resource event: %w", err)
	}

	topic, ok := s.routes[event.ResourceType]
	if !ok {
		return nil, fmt.Errorf("no route for resource type %q", event.ResourceType)
	}

	out := msg.Next()
	out.StepNumber = msg.StepNumber // Routing is not a processing hop
	out.Data = msg.Data
	out.SetMeta(models.MetaOutputTopic, topic)

	s.logger.Debug().
		Str("job_id", msg.JobID).
		Str("resource_type", event.ResourceType).
		Str("topic", topic).
		Msg("Routed resource event")

	return []*models.Envelope{out}, nil
}
