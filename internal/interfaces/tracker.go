package interfaces

import (
	"context"

	"github.com/marcwadey/granary/internal/models"
)

// StatusTracker reports job step transitions to the external tracking
// service. Implementations must map internal step types to the
// tracker's step-type strings.
type StatusTracker interface {
	UpdateStatus(ctx context.Context, jobID string, step models.StepType, status models.StepStatus) error
}
