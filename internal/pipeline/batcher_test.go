package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

type emitRecorder struct {
	mu      sync.Mutex
	batches map[string][][]*models.Envelope
}

func newEmitRecorder() *emitRecorder {
	return &emitRecorder{batches: make(map[string][][]*models.Envelope)}
}

func (r *emitRecorder) emit(key string, batch []*models.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[key] = append(r.batches[key], batch)
}

func (r *emitRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches[key])
}

func (r *emitRecorder) batch(key string, i int) []*models.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[key][i]
}

func jobKey(env *models.Envelope) (string, error) {
	if env == nil || env.JobID == "" {
		return "", models.ErrMissingJobID
	}
	return env.JobID, nil
}

func TestBatcher_SizeTrigger(t *testing.T) {
	rec := newEmitRecorder()
	b := NewBatcher(jobKey, 3, time.Hour, rec.emit, nil, arbor.NewLogger())

	for i := 0; i < 3; i++ {
		b.Add(models.NewEnvelope("job-a", i))
	}

	if rec.count("job-a") != 1 {
		t.Fatalf("expected 1 batch, got %d", rec.count("job-a"))
	}
	if len(rec.batch("job-a", 0)) != 3 {
		t.Errorf("expected batch of 3, got %d", len(rec.batch("job-a", 0)))
	}
	if b.PendingKeys() != 0 {
		t.Errorf("expected no pending keys after flush, got %d", b.PendingKeys())
	}
}

func TestBatcher_BelowThresholdDoesNotEmit(t *testing.T) {
	rec := newEmitRecorder()
	b := NewBatcher(jobKey, 5, time.Hour, rec.emit, nil, arbor.NewLogger())

	b.Add(models.NewEnvelope("job-b", 1))
	b.Add(models.NewEnvelope("job-b", 2))

	if rec.count("job-b") != 0 {
		t.Errorf("batch emitted before size threshold")
	}
	if b.PendingKeys() != 1 {
		t.Errorf("expected 1 pending key, got %d", b.PendingKeys())
	}
}

func TestBatcher_WindowTrigger(t *testing.T) {
	rec := newEmitRecorder()
	b := NewBatcher(jobKey, 100, 100*time.Millisecond, rec.emit, nil, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	b.Add(models.NewEnvelope("job-c", 1))
	b.Add(models.NewEnvelope("job-c", 2))

	deadline := time.After(2 * time.Second)
	for rec.count("job-c") == 0 {
		select {
		case <-deadline:
			t.Fatal("window never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if len(rec.batch("job-c", 0)) != 2 {
		t.Errorf("expected batch of 2, got %d", len(rec.batch("job-c", 0)))
	}
}

func TestBatcher_KeysAreIndependent(t *testing.T) {
	rec := newEmitRecorder()
	b := NewBatcher(jobKey, 2, time.Hour, rec.emit, nil, arbor.NewLogger())

	b.Add(models.NewEnvelope("job-x", 1))
	b.Add(models.NewEnvelope("job-y", 1))
	b.Add(models.NewEnvelope("job-x", 2))

	// job-x hit its size threshold; job-y is still accumulating
	if rec.count("job-x") != 1 {
		t.Errorf("expected job-x flushed, got %d batches", rec.count("job-x"))
	}
	if rec.count("job-y") != 0 {
		t.Errorf("job-y flushed prematurely")
	}

	for _, env := range rec.batch("job-x", 0) {
		if env.JobID != "job-x" {
			t.Errorf("batch contains foreign record for job %s", env.JobID)
		}
	}
}

func TestBatcher_KeyErrorRoutesToHandler(t *testing.T) {
	rec := newEmitRecorder()
	var badEnv *models.Envelope
	onKeyError := func(env *models.Envelope, err error) {
		badEnv = env
	}
	b := NewBatcher(jobKey, 2, time.Hour, rec.emit, onKeyError, arbor.NewLogger())

	noKey := &models.Envelope{StepNumber: 1}
	b.Add(noKey)

	if badEnv != noKey {
		t.Errorf("keyless record should route to the error handler")
	}
	if b.PendingKeys() != 0 {
		t.Errorf("keyless record must not occupy a window")
	}
}

func TestBatcher_FlushAll(t *testing.T) {
	rec := newEmitRecorder()
	b := NewBatcher(jobKey, 100, time.Hour, rec.emit, nil, arbor.NewLogger())

	b.Add(models.NewEnvelope("job-p", 1))
	b.Add(models.NewEnvelope("job-q", 1))

	b.FlushAll()

	if rec.count("job-p") != 1 || rec.count("job-q") != 1 {
		t.Errorf("FlushAll should emit every pending batch")
	}
	if b.PendingKeys() != 0 {
		t.Errorf("expected no pending keys after FlushAll")
	}
}
