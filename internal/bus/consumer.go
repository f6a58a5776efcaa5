package bus

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
)

// Handler processes one delivery. Returning nil acks the message; a
// non-nil error leaves it unacked for redelivery after the visibility
// timeout.
type Handler func(ctx context.Context, d *Delivery) error

// ConsumerPool runs a fixed set of polling consumers against one topic.
type ConsumerPool struct {
	bus          *Bus
	topic        string
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	cancel       context.CancelFunc
}

// NewConsumerPool creates a consumer pool for a topic.
func NewConsumerPool(b *Bus, topic string, handler Handler, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *ConsumerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}

	return &ConsumerPool{
		bus:          b,
		topic:        topic,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start launches the consumer goroutines.
func (p *ConsumerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info().
		Str("topic", p.topic).
		Int("concurrency", p.concurrency).
		Msg("Starting consumer pool")

	for i := 0; i < p.concurrency; i++ {
		go p.consume(ctx, i)
	}
}

// Stop cancels all consumers in the pool.
func (p *ConsumerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// consume is the poll loop for a single consumer.
func (p *ConsumerPool) consume(ctx context.Context, consumerID int) {
	// Stagger consumer starts to spread polls across the interval
	stagger := (p.pollInterval / time.Duration(p.concurrency)) * time.Duration(consumerID)
	if stagger > 0 {
		select {
		case <-time.After(stagger):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().
				Str("topic", p.topic).
				Int("consumer_id", consumerID).
				Msg("Consumer stopped")
			return

		case <-ticker.C:
			if err := p.processOne(ctx, consumerID); err != nil {
				if errors.Is(err, ErrNoMessage) {
					continue
				}
				p.logger.Warn().
					Err(err).
					Str("topic", p.topic).
					Int("consumer_id", consumerID).
					Msg("Error processing message")
			}
		}
	}
}

// processOne receives and handles a single message.
func (p *ConsumerPool) processOne(ctx context.Context, consumerID int) error {
	d, err := p.bus.Receive(ctx, p.topic)
	if err != nil {
		return err
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("message_id", d.ID).
		Int("consumer_id", consumerID).
		Int("receive_count", d.ReceiveCount).
		Msg("Processing message")

	if err := p.handler(ctx, d); err != nil {
		// Leave unacked; the visibility timeout will redeliver
		return err
	}

	if err := d.Ack(); err != nil {
		p.logger.Warn().
			Err(err).
			Str("message_id", d.ID).
			Msg("Failed to ack message")
	}
	return nil
}
