package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/interfaces"
	"github.com/marcwadey/granary/internal/models"
)

// Stage is one processing step of the pipeline. Process consumes a
// standardized envelope and returns zero or more output envelopes.
// Implementations return an error for any failure; they never report
// status themselves.
type Stage interface {
	Name() models.StepType
	Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error)
}

// StatusStage wraps another Stage with automatic status reporting:
//
//	IN_PROGRESS before processing, then COMPLETE on non-empty output
//	or FAILED on error/empty output.
//
// The stage's success is judged as a unit: an error discards any
// partial output from the same invocation, so a consumer polling job
// status sees COMPLETE only when the stage genuinely finished.
//
// Errors from the wrapped stage never escape the wrapper - downstream
// sees an empty result set, and the only user-visible failure surface
// is the step status in the tracker. The one exception is a failed
// IN_PROGRESS report, which propagates so a broken tracker does not
// silently allow mis-tracked jobs to proceed.
type StatusStage struct {
	inner   Stage
	tracker interfaces.StatusTracker
	logger  arbor.ILogger
}

// Compile-time interface assertion
var _ Stage = (*StatusStage)(nil)

// NewStatusStage wraps a stage with status tracking.
func NewStatusStage(inner Stage, tracker interfaces.StatusTracker, logger arbor.ILogger) *StatusStage {
	return &StatusStage{
		inner:   inner,
		tracker: tracker,
		logger:  logger,
	}
}

// Name returns the wrapped stage's step type.
func (s *StatusStage) Name() models.StepType {
	return s.inner.Name()
}

// Process runs the wrapped stage with status transitions.
func (s *StatusStage) Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error) {
	if msg == nil || msg.JobID == "" {
		s.logger.Warn().
			Str("step", s.Name().String()).
			Msg("Dropping message without job id")
		return nil, nil
	}
	jobID := msg.JobID

	if err := s.tracker.UpdateStatus(ctx, jobID, s.Name(), models.StatusInProgress); err != nil {
		return nil, fmt.Errorf("failed to report IN_PROGRESS for job %s: %w", jobID, err)
	}

	results, err := s.inner.Process(ctx, msg)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("step", s.Name().String()).
			Msg("Stage processing failed")
		s.report(ctx, jobID, models.StatusFailed)
		return nil, nil
	}

	// Filter nil results before judging the outcome
	filtered := results[:0]
	for _, r := range results {
		if r != nil {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) == 0 {
		s.logger.Warn().
			Str("job_id", jobID).
			Str("step", s.Name().String()).
			Msg("Stage yielded no results")
		s.report(ctx, jobID, models.StatusFailed)
		return nil, nil
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("step", s.Name().String()).
		Int("results", len(filtered)).
		Msg("Stage completed")
	s.report(ctx, jobID, models.StatusComplete)
	return filtered, nil
}

// report writes a terminal status. Failures here are logged, not
// re-raised, to avoid masking the stage's own outcome.
func (s *StatusStage) report(ctx context.Context, jobID string, status models.StepStatus) {
	if err := s.tracker.UpdateStatus(ctx, jobID, s.Name(), status); err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("step", s.Name().String()).
			Str("status", status.String()).
			Msg("Failed to report step status")
	}
}
