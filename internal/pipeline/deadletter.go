package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// DeadLetterRecord preserves a message that could not be processed:
// malformed payloads, records without a batch key, and bus messages
// that exhausted their receive budget. Kept for operator inspection
// and purged by the maintenance sweep after the retention period.
type DeadLetterRecord struct {
	ID           string    `badgerhold:"key"`
	Topic        string    `badgerholdIndex:"Topic"`
	Reason       string    `json:"reason"`
	Payload      []byte    `json:"payload"`
	ReceiveCount int       `json:"receive_count"`
	CreatedAt    time.Time `badgerholdIndex:"CreatedAt"`
}

// DeadLetterStore is a badgerhold-backed dead-letter archive.
type DeadLetterStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// OpenDeadLetterStore opens (or creates) the dead-letter database at
// the given directory.
func OpenDeadLetterStore(path string, logger arbor.ILogger) (*DeadLetterStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter store: %w", err)
	}

	return &DeadLetterStore{store: store, logger: logger}, nil
}

// Add archives one failed record. Errors are logged, never returned -
// dead-lettering is best effort and must not block the pipeline.
func (s *DeadLetterStore) Add(topic, reason string, payload []byte, receiveCount int) {
	rec := DeadLetterRecord{
		ID:           uuid.New().String(),
		Topic:        topic,
		Reason:       reason,
		Payload:      payload,
		ReceiveCount: receiveCount,
		CreatedAt:    time.Now(),
	}

	if err := s.store.Insert(rec.ID, &rec); err != nil {
		s.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("reason", reason).
			Msg("Failed to archive dead-letter record")
		return
	}

	s.logger.Warn().
		Str("topic", topic).
		Str("reason", reason).
		Str("dead_letter_id", rec.ID).
		Msg("Record dead-lettered")
}

// PurgeOlderThan removes records past the retention period and
// returns how many were deleted.
func (s *DeadLetterStore) PurgeOlderThan(age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)

	before, err := s.Count()
	if err != nil {
		return 0, err
	}

	if err := s.store.DeleteMatching(&DeadLetterRecord{}, badgerhold.Where("CreatedAt").Lt(cutoff)); err != nil {
		return 0, err
	}

	after, err := s.Count()
	if err != nil {
		return 0, err
	}
	return before - after, nil
}

// Count returns the number of archived records.
func (s *DeadLetterStore) Count() (int, error) {
	count, err := s.store.Count(&DeadLetterRecord{}, badgerhold.Where("ID").Ne(""))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListByTopic returns archived records for one topic.
func (s *DeadLetterStore) ListByTopic(topic string) ([]DeadLetterRecord, error) {
	var records []DeadLetterRecord
	if err := s.store.Find(&records, badgerhold.Where("Topic").Eq(topic).SortBy("CreatedAt").Reverse()); err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the underlying store.
func (s *DeadLetterStore) Close() error {
	return s.store.Close()
}
