package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

func TestUpdateStatus_PutProtocol(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ProtocolPut, time.Second, 0, arbor.NewLogger())

	err := c.UpdateStatus(context.Background(), "job-1", models.StepTypeSummarize, models.StatusInProgress)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/jobs/job-1/steps/data_processing_llm" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotBody["status"] != "IN_PROGRESS" {
		t.Errorf("expected status IN_PROGRESS, got %v", gotBody["status"])
	}
	if gotBody["step_type"] != "data_processing_llm" {
		t.Errorf("expected external step name, got %v", gotBody["step_type"])
	}
}

func TestUpdateStatus_GetPatchProtocol(t *testing.T) {
	var patchPath string
	var patchBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/steps/job/job-2":
			json.NewEncoder(w).Encode([]map[string]string{
				{"id": "step-abc", "step_type": "gateway"},
				{"id": "step-def", "step_type": "data_sink"},
			})
		case r.Method == http.MethodPatch:
			patchPath = r.URL.Path
			json.NewDecoder(r.Body).Decode(&patchBody)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ProtocolGetPatch, time.Second, 0, arbor.NewLogger())

	err := c.UpdateStatus(context.Background(), "job-2", models.StepTypeStore, models.StatusComplete)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if patchPath != "/steps/step-def" {
		t.Errorf("expected patch of resolved step id, got %s", patchPath)
	}
	if patchBody["status"] != "COMPLETE" {
		t.Errorf("expected COMPLETE, got %v", patchBody["status"])
	}
}

func TestUpdateStatus_GetPatchStepMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ProtocolGetPatch, time.Second, 0, arbor.NewLogger())

	if err := c.UpdateStatus(context.Background(), "job-3", models.StepTypeFetch, models.StatusFailed); err == nil {
		t.Error("expected error when step is not found")
	}
}

func TestUpdateStatus_RetriesOnServiceUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ProtocolPut, time.Second, 3, arbor.NewLogger())

	err := c.UpdateStatus(context.Background(), "job-4", models.StepTypeGateway, models.StatusInProgress)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestUpdateStatus_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ProtocolPut, time.Second, 3, arbor.NewLogger())

	err := c.UpdateStatus(context.Background(), "job-5", models.StepTypeGateway, models.StatusComplete)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", calls)
	}

	var remote *RemoteError
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusNotFound {
		t.Errorf("expected RemoteError with 404, got %v", err)
	}
}

func TestUpdateStatus_ExhaustedRetriesReturnsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ProtocolPut, time.Second, 1, arbor.NewLogger())

	err := c.UpdateStatus(context.Background(), "job-6", models.StepTypeStore, models.StatusFailed)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusBadGateway {
		t.Errorf("expected RemoteError with 502, got %v", err)
	}
}
