package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// ErrNoMessage is returned when a topic has no visible messages
var ErrNoMessage = errors.New("no messages in topic")

// DeadLetterFunc receives messages that exhausted their receive budget.
type DeadLetterFunc func(topic string, body []byte, receiveCount int)

// storedMessage is the internal structure persisted in Badger
type storedMessage struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Body         []byte    `json:"body"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}

// Delivery is a received message plus its acknowledgement hook. An
// unacked delivery becomes visible again after the visibility timeout,
// giving at-least-once semantics.
type Delivery struct {
	ID           string
	Topic        string
	Body         []byte
	ReceiveCount int
	ack          func() error
}

// Ack removes the message from the topic after successful processing.
func (d *Delivery) Ack() error {
	return d.ack()
}

// Bus is a persistent topic-addressed message bus on BadgerDB. Each
// topic behaves as an independent queue with visibility-timeout
// redelivery and max-receive dead-lettering.
//
// Key layout:
//
//	bus:{topic}:msg:{id}              -> message JSON
//	bus:{topic}:index:{visibleAt}:{id} -> empty (scan order = visibility order)
type Bus struct {
	db                *badger.DB
	visibilityTimeout time.Duration
	maxReceive        int
	deadLetter        DeadLetterFunc
	logger            arbor.ILogger
}

// New creates a bus on an already-open Badger database.
func New(db *badger.DB, visibilityTimeout time.Duration, maxReceive int, deadLetter DeadLetterFunc, logger arbor.ILogger) (*Bus, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &Bus{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		deadLetter:        deadLetter,
		logger:            logger,
	}, nil
}

// Publish adds a message to a topic. The message is immediately
// visible to consumers.
func (b *Bus) Publish(ctx context.Context, topic string, body []byte) error {
	if topic == "" {
		return errors.New("topic is required")
	}

	msg := storedMessage{
		ID:         uuid.New().String(),
		Topic:      topic,
		Body:       body,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal bus message: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(b.msgKey(topic, msg.ID), data); err != nil {
			return err
		}
		return txn.Set(b.indexKey(topic, msg.VisibleAt, msg.ID), []byte{})
	})
}

// Receive pulls the next visible message from a topic, extending its
// visibility window by the configured timeout. Messages past their
// receive budget are routed to the dead-letter handler and removed.
func (b *Bus) Receive(ctx context.Context, topic string) (*Delivery, error) {
	var claimed storedMessage
	var deadLettered []storedMessage

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := b.indexPrefix(topic)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := b.parseIndexKey(topic, key)
			if err != nil {
				continue // Skip malformed keys
			}

			// Index keys sort by visibility timestamp; the first
			// future entry means nothing else is ready either.
			if ts.After(now) {
				break
			}

			item, err := txn.Get(b.msgKey(topic, id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Dangling index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var msg storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			if msg.ReceiveCount >= b.maxReceive {
				// Poison message: hand to dead-letter and drop
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(b.msgKey(topic, id)); err != nil {
					return err
				}
				deadLettered = append(deadLettered, msg)
				continue
			}

			claimed = msg
			oldIndexKey = key
			found = true
			break
		}

		if !found {
			return ErrNoMessage
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(b.visibilityTimeout)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(b.msgKey(topic, claimed.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(b.indexKey(topic, claimed.VisibleAt, claimed.ID), []byte{})
	})

	// Dead-letter outside the transaction so the handler can't deadlock it
	for _, msg := range deadLettered {
		if b.logger != nil {
			b.logger.Warn().
				Str("topic", topic).
				Str("message_id", msg.ID).
				Int("receive_count", msg.ReceiveCount).
				Msg("Message exceeded max receives, dead-lettering")
		}
		if b.deadLetter != nil {
			b.deadLetter(topic, msg.Body, msg.ReceiveCount)
		}
	}

	if err != nil {
		return nil, err
	}

	msgID := claimed.ID
	return &Delivery{
		ID:           msgID,
		Topic:        topic,
		Body:         claimed.Body,
		ReceiveCount: claimed.ReceiveCount,
		ack: func() error {
			return b.delete(topic, msgID)
		},
	}, nil
}

// delete removes a message and its index entry.
func (b *Bus) delete(topic, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(b.msgKey(topic, id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already deleted
			}
			return err
		}

		var msg storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		if err := txn.Delete(b.indexKey(topic, msg.VisibleAt, id)); err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Delete(b.msgKey(topic, id))
	})
}

// RunGC triggers Badger value-log garbage collection. Called from the
// maintenance scheduler.
func (b *Bus) RunGC() error {
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Helpers

func (b *Bus) msgKey(topic, id string) []byte {
	return []byte(fmt.Sprintf("bus:%s:msg:%s", topic, id))
}

func (b *Bus) indexPrefix(topic string) []byte {
	return []byte(fmt.Sprintf("bus:%s:index:", topic))
}

func (b *Bus) indexKey(topic string, visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering
	return []byte(fmt.Sprintf("bus:%s:index:%020d:%s", topic, visibleAt.UnixNano(), id))
}

func (b *Bus) parseIndexKey(topic string, key []byte) (time.Time, string, error) {
	prefix := string(b.indexPrefix(topic))
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
