package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

func testRoutes() map[string]string {
	return map[string]string{
		models.ResourceTypeGitHub: "github_topic",
		models.ResourceTypePDF:    "pdf_topic",
	}
}

func intakeEnvelope(t *testing.T, resourceType string) *models.Envelope {
	t.Helper()
	env := models.NewEnvelope("job-1", 1)
	err := env.SetData(models.ResourceEvent{
		ID:           "evt-1",
		JobID:        "job-1",
		ResourceType: resourceType,
		ResourceData: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestProcess_RoutesGitHubEvent(t *testing.T) {
	svc := NewService(testRoutes(), arbor.NewLogger())

	results, err := svc.Process(context.Background(), intakeEnvelope(t, models.ResourceTypeGitHub))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if got := results[0].MetaString(models.MetaOutputTopic); got != "github_topic" {
		t.Errorf("expected github_topic, got %q", got)
	}
	if results[0].JobID != "job-1" {
		t.Errorf("job id lost in routing")
	}
}

func TestProcess_RoutesPDFEvent(t *testing.T) {
	svc := NewService(testRoutes(), arbor.NewLogger())

	results, err := svc.Process(context.Background(), intakeEnvelope(t, models.ResourceTypePDF))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got := results[0].MetaString(models.MetaOutputTopic); got != "pdf_topic" {
		t.Errorf("expected pdf_topic, got %q", got)
	}
}

func TestProcess_UnknownResourceTypeFails(t *testing.T) {
	svc := NewService(testRoutes(), arbor.NewLogger())

	if _, err := svc.Process(context.Background(), intakeEnvelope(t, "spreadsheet")); err == nil {
		t.Error("expected error for unknown resource type")
	}
}

func TestProcess_PayloadPassesThroughUnchanged(t *testing.T) {
	svc := NewService(testRoutes(), arbor.NewLogger())
	in := intakeEnvelope(t, models.ResourceTypeGitHub)

	results, err := svc.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	var event models.ResourceEvent
	if err := results[0].DecodeData(&event); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if event.ID != "evt-1" {
		t.Errorf("event payload changed in routing")
	}
}
