package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/models"
)

// KeyFunc extracts the grouping key (the job id) from a record.
type KeyFunc func(*models.Envelope) (string, error)

// EmitFunc receives a flushed batch. The key is stripped by the chain
// before the batch leaves the process.
type EmitFunc func(key string, batch []*models.Envelope)

// KeyErrorFunc handles records whose key cannot be determined. Such
// records must not block other keys' windows.
type KeyErrorFunc func(env *models.Envelope, err error)

// accumulator holds the pending records for one key.
type accumulator struct {
	records     []*models.Envelope
	windowStart time.Time
}

// Batcher groups envelopes by job id and flushes a key's batch when
// either its size threshold is reached or its time window elapses,
// whichever comes first, independently per key. Windows are evaluated
// cooperatively by a poll tick: a flush may fire late under load but
// never early.
//
// The batcher holds pending records in memory only. A crash loses the
// current windows; the bus redelivers, so the trade-off is
// at-least-once rather than exactly-once.
type Batcher struct {
	keyFn      KeyFunc
	maxSize    int
	window     time.Duration
	emit       EmitFunc
	onKeyError KeyErrorFunc
	logger     arbor.ILogger

	mu      sync.Mutex
	pending map[string]*accumulator
	cancel  context.CancelFunc
}

// NewBatcher creates a job-keyed batcher. maxSize and window must both
// be positive.
func NewBatcher(keyFn KeyFunc, maxSize int, window time.Duration, emit EmitFunc, onKeyError KeyErrorFunc, logger arbor.ILogger) *Batcher {
	if maxSize <= 0 {
		maxSize = 1
	}
	if window <= 0 {
		window = time.Second
	}

	return &Batcher{
		keyFn:      keyFn,
		maxSize:    maxSize,
		window:     window,
		emit:       emit,
		onKeyError: onKeyError,
		logger:     logger,
		pending:    make(map[string]*accumulator),
	}
}

// Start launches the window sweep loop.
func (b *Batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	// Sweep often enough that windows fire close to their deadline
	tick := b.window / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep()
			}
		}
	}()
}

// Stop ends the sweep loop and flushes all pending batches.
func (b *Batcher) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.FlushAll()
}

// Add routes one record into its key's accumulator, flushing
// immediately if the size threshold is reached.
func (b *Batcher) Add(env *models.Envelope) {
	key, err := b.keyFn(env)
	if err != nil || key == "" {
		b.logger.Warn().
			Err(err).
			Msg("Cannot determine batch key, dead-lettering record")
		if b.onKeyError != nil {
			b.onKeyError(env, err)
		}
		return
	}

	var flush []*models.Envelope

	b.mu.Lock()
	acc, ok := b.pending[key]
	if !ok {
		acc = &accumulator{windowStart: time.Now()}
		b.pending[key] = acc
	}
	acc.records = append(acc.records, env)
	if len(acc.records) >= b.maxSize {
		flush = acc.records
		delete(b.pending, key)
	}
	b.mu.Unlock()

	if flush != nil {
		b.emit(key, flush)
	}
}

// sweep flushes every key whose window has elapsed.
func (b *Batcher) sweep() {
	now := time.Now()
	ready := make(map[string][]*models.Envelope)

	b.mu.Lock()
	for key, acc := range b.pending {
		if now.Sub(acc.windowStart) >= b.window && len(acc.records) > 0 {
			ready[key] = acc.records
			delete(b.pending, key)
		}
	}
	b.mu.Unlock()

	for key, batch := range ready {
		b.emit(key, batch)
	}
}

// FlushAll immediately emits every pending batch regardless of
// trigger. Used on shutdown.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	ready := make(map[string][]*models.Envelope, len(b.pending))
	for key, acc := range b.pending {
		if len(acc.records) > 0 {
			ready[key] = acc.records
		}
	}
	b.pending = make(map[string]*accumulator)
	b.mu.Unlock()

	for key, batch := range ready {
		b.emit(key, batch)
	}
}

// PendingKeys returns the number of keys with accumulating records.
func (b *Batcher) PendingKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
