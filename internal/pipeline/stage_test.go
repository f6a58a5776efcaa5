package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

type trackerCall struct {
	jobID  string
	step   models.StepType
	status models.StepStatus
}

type mockTracker struct {
	calls       []trackerCall
	failOn      models.StepStatus
	failOnError error
}

func (m *mockTracker) UpdateStatus(ctx context.Context, jobID string, step models.StepType, status models.StepStatus) error {
	m.calls = append(m.calls, trackerCall{jobID, step, status})
	if m.failOn != "" && status == m.failOn {
		return m.failOnError
	}
	return nil
}

type mockStage struct {
	results []*models.Envelope
	err     error
	called  bool
}

func (m *mockStage) Name() models.StepType {
	return models.StepTypeFetch
}

func (m *mockStage) Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error) {
	m.called = true
	return m.results, m.err
}

func TestStatusStage_SuccessReportsInProgressThenComplete(t *testing.T) {
	tracker := &mockTracker{}
	inner := &mockStage{results: []*models.Envelope{models.NewEnvelope("job-1", 2)}}
	stage := NewStatusStage(inner, tracker, arbor.NewLogger())

	results, err := stage.Process(context.Background(), models.NewEnvelope("job-1", 1))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	if len(tracker.calls) != 2 {
		t.Fatalf("expected 2 tracker calls, got %d", len(tracker.calls))
	}
	if tracker.calls[0].status != models.StatusInProgress {
		t.Errorf("first call should be IN_PROGRESS, got %s", tracker.calls[0].status)
	}
	if tracker.calls[1].status != models.StatusComplete {
		t.Errorf("second call should be COMPLETE, got %s", tracker.calls[1].status)
	}
	if tracker.calls[0].jobID != "job-1" || tracker.calls[0].step != models.StepTypeFetch {
		t.Errorf("unexpected call target: %+v", tracker.calls[0])
	}
}

func TestStatusStage_ErrorReportsFailedAndIsContained(t *testing.T) {
	tracker := &mockTracker{}
	inner := &mockStage{err: errors.New("upstream api unavailable")}
	stage := NewStatusStage(inner, tracker, arbor.NewLogger())

	results, err := stage.Process(context.Background(), models.NewEnvelope("job-2", 1))
	if err != nil {
		t.Fatalf("stage error should be contained, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results after failure, got %d", len(results))
	}

	if len(tracker.calls) != 2 {
		t.Fatalf("expected 2 tracker calls, got %d", len(tracker.calls))
	}
	if tracker.calls[1].status != models.StatusFailed {
		t.Errorf("expected FAILED, got %s", tracker.calls[1].status)
	}
}

func TestStatusStage_ErrorDiscardsPartialOutput(t *testing.T) {
	tracker := &mockTracker{}
	inner := &mockStage{
		results: []*models.Envelope{models.NewEnvelope("job-3", 2)},
		err:     errors.New("failed halfway"),
	}
	stage := NewStatusStage(inner, tracker, arbor.NewLogger())

	results, err := stage.Process(context.Background(), models.NewEnvelope("job-3", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("partial output must be discarded on error, got %d results", len(results))
	}
	if tracker.calls[len(tracker.calls)-1].status != models.StatusFailed {
		t.Errorf("expected FAILED status")
	}
}

func TestStatusStage_EmptyResultReportsFailed(t *testing.T) {
	tracker := &mockTracker{}
	inner := &mockStage{results: nil}
	stage := NewStatusStage(inner, tracker, arbor.NewLogger())

	results, err := stage.Process(context.Background(), models.NewEnvelope("job-4", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results")
	}
	if tracker.calls[1].status != models.StatusFailed {
		t.Errorf("empty output should report FAILED, got %s", tracker.calls[1].status)
	}
}

func TestStatusStage_NilResultsAreFiltered(t *testing.T) {
	tracker := &mockTracker{}
	inner := &mockStage{results: []*models.Envelope{nil, models.NewEnvelope("job-5", 2), nil}}
	stage := NewStatusStage(inner, tracker, arbor.NewLogger())

	results, err := stage.Process(context.Background(), models.NewEnvelope("job-5", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result after filtering, got %d", len(results))
	}
	if tracker.calls[1].status != models.StatusComplete {
		t.Errorf("expected COMPLETE, got %s", tracker.calls[1].status)
	}
}

func TestStatusStage_MissingJobIDIsDropped(t *testing.T) {
	tracker := &mockTracker{}
	inner := &mockStage{results: []*models.Envelope{models.NewEnvelope("x", 2)}}
	stage := NewStatusStage(inner, tracker, arbor.NewLogger())

	results, err := stage.Process(context.Background(), &models.Envelope{StepNumber: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("message without job id must be dropped")
	}
	if inner.called {
		t.Errorf("inner stage must not run without a job id")
	}
	if len(tracker.calls) != 0 {
		t.Errorf("no status should be reported without a job id")
	}
}

func TestStatusStage_InProgressFailurePropagates(t *testing.T) {
	tracker := &mockTracker{
		failOn:      models.StatusInProgress,
		failOnError: errors.New("tracker unavailable"),
	}
	inner := &mockStage{results: []*models.Envelope{models.NewEnvelope("job-6", 2)}}
	stage := NewStatusStage(inner, tracker, arbor.NewLogger())

	_, err := stage.Process(context.Background(), models.NewEnvelope("job-6", 1))
	if err == nil {
		t.Fatal("expected error when IN_PROGRESS report fails")
	}
	if inner.called {
		t.Errorf("inner stage must not run when IN_PROGRESS report fails")
	}
}
