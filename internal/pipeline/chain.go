package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/bus"
	"github.com/marcwadey/granary/internal/interfaces"
	"github.com/marcwadey/granary/internal/models"
)

// SinkFunc delivers a terminal batch out of the pipeline.
type SinkFunc func(ctx context.Context, jobID string, batch []*models.Envelope) error

// ChainConfig describes one service's stage chain.
type ChainConfig struct {
	InputTopic   string
	OutputTopic  string // Fallback when envelopes carry no output_topic metadata
	Intake       bool   // Input payloads are raw resource events, not envelopes
	MaxBatchSize int
	BatchWindow  time.Duration
	Concurrency  int
	PollInterval time.Duration
}

// Chain wires one service's full stage sequence: consume a topic,
// standardize the payload into an envelope, run the status-wrapped
// transform, filter empty results, batch by job id, then strip the key
// and publish to the next topic (or hand to the sink for the terminal
// stage). Every service in the pipeline is an instance of this
// structure; only the stage in the middle differs.
type Chain struct {
	cfg         ChainConfig
	stage       Stage
	batcher     *Batcher
	pool        *bus.ConsumerPool
	publisher   interfaces.Publisher
	sink        SinkFunc
	deadLetters *DeadLetterStore
	logger      arbor.ILogger

	ctx context.Context
}

// NewChain composes a chain around an (already status-wrapped) stage.
// Exactly one of publisher/sink routes the emitted batches; the sink
// wins when both are set.
func NewChain(cfg ChainConfig, stage Stage, b *bus.Bus, publisher interfaces.Publisher, sink SinkFunc, deadLetters *DeadLetterStore, logger arbor.ILogger) *Chain {
	c := &Chain{
		cfg:         cfg,
		stage:       stage,
		publisher:   publisher,
		sink:        sink,
		deadLetters: deadLetters,
		logger:      logger,
	}

	c.batcher = NewBatcher(
		func(env *models.Envelope) (string, error) {
			if env == nil || env.JobID == "" {
				return "", models.ErrMissingJobID
			}
			return env.JobID, nil
		},
		cfg.MaxBatchSize,
		cfg.BatchWindow,
		c.emitBatch,
		c.deadLetterEnvelope,
		logger,
	)

	c.pool = bus.NewConsumerPool(b, cfg.InputTopic, c.handle, cfg.Concurrency, cfg.PollInterval, logger)
	return c
}

// Start launches the chain's batcher and consumers.
func (c *Chain) Start(ctx context.Context) {
	c.ctx = ctx
	c.batcher.Start(ctx)
	c.pool.Start(ctx)

	c.logger.Info().
		Str("step", c.stage.Name().String()).
		Str("input_topic", c.cfg.InputTopic).
		Str("output_topic", c.cfg.OutputTopic).
		Msg("Pipeline chain started")
}

// Stop stops consuming and flushes pending batches.
func (c *Chain) Stop() {
	c.pool.Stop()
	c.batcher.Stop()
}

// handle processes one bus delivery through the stage sequence.
// Returning nil acks; a non-nil error leaves the message for
// redelivery (used only when the IN_PROGRESS report fails, so a dead
// tracker throttles the pipeline instead of losing track of jobs).
func (c *Chain) handle(ctx context.Context, d *bus.Delivery) error {
	env, err := c.standardize(d)
	if err != nil {
		// Malformed payloads will not become valid on redelivery:
		// archive and ack
		c.logger.Error().
			Err(err).
			Str("topic", d.Topic).
			Str("message_id", d.ID).
			Str("payload", truncate(string(d.Body), 512)).
			Msg("Dropping malformed message")
		if c.deadLetters != nil {
			c.deadLetters.Add(d.Topic, err.Error(), d.Body, d.ReceiveCount)
		}
		return nil
	}

	outputs, err := c.stage.Process(ctx, env)
	if err != nil {
		return err
	}

	for _, out := range outputs {
		if out == nil {
			continue
		}
		c.batcher.Add(out)
	}
	return nil
}

// standardize parses the transport payload into this hop's envelope.
func (c *Chain) standardize(d *bus.Delivery) (*models.Envelope, error) {
	if c.cfg.Intake {
		return StandardizeIntake(d.Body, d.Topic)
	}
	return StandardizeHop(d.Body, d.Topic)
}

// emitBatch is the batcher's flush target: merge the batch back into a
// single envelope (the key is dropped here) and route it onward.
func (c *Chain) emitBatch(jobID string, batch []*models.Envelope) {
	if len(batch) == 0 {
		return
	}

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if c.sink != nil {
		if err := c.sink(ctx, jobID, batch); err != nil {
			c.logger.Error().
				Err(err).
				Str("job_id", jobID).
				Int("batch_size", len(batch)).
				Msg("Sink delivery failed")
			c.deadLetterBatch(jobID, batch, err)
		}
		return
	}

	// Envelopes routed by the stage (gateway) carry their own output
	// topic; group by destination so one batch can fan out
	byTopic := make(map[string][]*models.Envelope)
	for _, env := range batch {
		topic := env.MetaString(models.MetaOutputTopic)
		if topic == "" {
			topic = c.cfg.OutputTopic
		}
		if topic == "" {
			c.logger.Error().
				Str("job_id", jobID).
				Msg("No output topic for batch, dead-lettering")
			c.deadLetterEnvelope(env, errors.New("no output topic"))
			continue
		}
		byTopic[topic] = append(byTopic[topic], env)
	}

	for topic, envs := range byTopic {
		for _, out := range mergeBatch(envs) {
			// The routing decision is consumed here; do not leak it to
			// the next hop
			delete(out.Metadata, models.MetaOutputTopic)
			body, err := out.ToJSON()
			if err != nil {
				c.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to serialize batch")
				c.deadLetterEnvelope(out, err)
				continue
			}
			if err := c.publisher.Publish(ctx, topic, body); err != nil {
				c.logger.Error().
					Err(err).
					Str("job_id", jobID).
					Str("topic", topic).
					Msg("Failed to publish batch")
				c.deadLetterEnvelope(out, err)
				continue
			}
		}
		c.logger.Debug().
			Str("job_id", jobID).
			Str("topic", topic).
			Int("batch_size", len(envs)).
			Msg("Published batch")
	}
}

// mergeBatch collapses a same-job batch for the next hop. When every
// payload is a JSON array the arrays are concatenated in append order
// into one envelope, metadata merging with later entries winning on
// key conflict. Batches carrying object payloads (resource events out
// of the gateway) cannot be concatenated and pass through unmerged,
// one envelope per record.
func mergeBatch(batch []*models.Envelope) []*models.Envelope {
	if len(batch) == 1 {
		return batch
	}

	var items []json.RawMessage
	for _, env := range batch {
		var arr []json.RawMessage
		if err := json.Unmarshal(env.Data, &arr); err != nil {
			return batch
		}
		items = append(items, arr...)
	}

	merged, err := json.Marshal(items)
	if err != nil {
		return batch
	}

	out := batch[0].Next()
	out.StepNumber = batch[0].StepNumber // Merging is not a hop
	out.Data = merged
	for _, env := range batch[1:] {
		for k, v := range env.Metadata {
			out.Metadata[k] = v
		}
	}
	return []*models.Envelope{out}
}

// deadLetterEnvelope archives a single record that cannot continue.
func (c *Chain) deadLetterEnvelope(env *models.Envelope, cause error) {
	if c.deadLetters == nil || env == nil {
		return
	}
	body, err := env.ToJSON()
	if err != nil {
		body = []byte(fmt.Sprintf("%+v", env))
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	c.deadLetters.Add(c.cfg.InputTopic, reason, body, 0)
}

// deadLetterBatch archives a whole failed batch.
func (c *Chain) deadLetterBatch(jobID string, batch []*models.Envelope, cause error) {
	for _, env := range batch {
		c.deadLetterEnvelope(env, cause)
	}
	c.logger.Warn().
		Str("job_id", jobID).
		Int("batch_size", len(batch)).
		Msg("Batch dead-lettered")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
