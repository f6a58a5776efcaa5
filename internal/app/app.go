package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/bus"
	"github.com/marcwadey/granary/internal/common"
	"github.com/marcwadey/granary/internal/models"
	"github.com/marcwadey/granary/internal/pipeline"
	"github.com/marcwadey/granary/internal/services/gateway"
	"github.com/marcwadey/granary/internal/services/githubfetch"
	"github.com/marcwadey/granary/internal/services/pdffetch"
	"github.com/marcwadey/granary/internal/services/summarize"
	"github.com/marcwadey/granary/internal/services/vectorstore"
	"github.com/marcwadey/granary/internal/sink"
	"github.com/marcwadey/granary/internal/tracker"
)

// App owns every pipeline component and their startup/shutdown order.
type App struct {
	config *common.Config
	logger arbor.ILogger

	db          *badger.DB
	bus         *bus.Bus
	deadLetters *pipeline.DeadLetterStore
	vectorIndex *vectorstore.PgStore
	chains      []*pipeline.Chain
	maintenance *Maintenance
}

// New wires the full pipeline from configuration. Components are
// created in dependency order; any failure tears down what was already
// opened.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		config: config,
		logger: logger,
	}

	if err := a.initStorage(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initChains(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if config.Maintenance.Enabled {
		m, err := NewMaintenance(config.Maintenance, a.bus, a.deadLetters, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.maintenance = m
	}

	return a, nil
}

// initStorage opens the badger database backing the bus and the
// dead-letter archive.
func (a *App) initStorage() error {
	path := a.config.Storage.Badger.Path

	if a.config.Storage.Badger.ResetOnStartup {
		a.logger.Warn().Str("path", path).Msg("Resetting storage on startup")
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to reset storage: %w", err)
		}
	}

	busPath := filepath.Join(path, "bus")
	if err := os.MkdirAll(busPath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(busPath)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open message store: %w", err)
	}
	a.db = db

	deadLetters, err := pipeline.OpenDeadLetterStore(filepath.Join(path, "deadletters"), a.logger)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	a.deadLetters = deadLetters

	b, err := bus.New(
		db,
		common.Duration(a.config.Bus.VisibilityTimeout, 0),
		a.config.Bus.MaxReceive,
		func(topic string, body []byte, receiveCount int) {
			a.deadLetters.Add(topic, "max receive count exceeded", body, receiveCount)
		},
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create bus: %w", err)
	}
	a.bus = b
	return nil
}

// initChains builds the five stage chains and their external clients.
func (a *App) initChains(ctx context.Context) error {
	cfg := a.config

	trackerClient := tracker.NewClient(
		cfg.Tracker.BaseURL,
		tracker.Protocol(cfg.Tracker.Protocol),
		common.Duration(cfg.Tracker.Timeout, 0),
		cfg.Tracker.Retries,
		a.logger,
	)

	summarizer, err := summarize.NewClaudeSummarizer(summarize.ClaudeOptions{
		APIKey:         cfg.LLM.APIKey,
		DefaultModel:   cfg.LLM.Model,
		DefaultPrompt:  cfg.LLM.Prompt,
		MaxTokens:      cfg.LLM.MaxTokens,
		MaxConcurrency: cfg.LLM.MaxConcurrency,
		Retries:        2,
	}, a.logger)
	if err != nil {
		return err
	}

	embedder, err := vectorstore.NewGeminiEmbedder(ctx,
		cfg.Embeddings.APIKey, cfg.Embeddings.Model, cfg.Embeddings.Dimension, a.logger)
	if err != nil {
		return err
	}

	index, err := vectorstore.NewPgStore(ctx, cfg.Vector.DSN, cfg.Embeddings.Dimension, a.logger)
	if err != nil {
		return err
	}
	a.vectorIndex = index

	delivery, err := sink.NewDelivery(sink.Options{
		URL:     cfg.Sink.Endpoint,
		Timeout: common.Duration(cfg.Sink.Timeout, 0),
		Retries: cfg.Sink.Retries,
	}, a.logger)
	if err != nil {
		return err
	}

	gatewayStage := gateway.NewService(map[string]string{
		models.ResourceTypeGitHub: cfg.Topics.GitHub,
		models.ResourceTypePDF:    cfg.Topics.PDF,
	}, a.logger)

	githubStage := githubfetch.NewService(githubfetch.Options{
		Token:             cfg.GitHub.Token,
		MaxCommits:        cfg.GitHub.MaxCommits,
		RequestsPerSecond: cfg.GitHub.RequestsPerSec,
		Timeout:           common.Duration(cfg.GitHub.Timeout, 0),
	}, a.logger)

	pdfStage := pdffetch.NewService(pdffetch.Options{
		ChunkSize:    cfg.PDF.ChunkSize,
		ChunkOverlap: cfg.PDF.ChunkOverlap,
		MaxBodySize:  cfg.PDF.MaxBodySize,
		Timeout:      common.Duration(cfg.PDF.Timeout, 0),
		TempDir:      cfg.PDF.TempDir,
	}, a.logger)

	summarizeStage := summarize.NewService(summarizer, a.logger)
	storeStage := vectorstore.NewService(embedder, index, "granary_default", a.logger)

	pollInterval := common.Duration(cfg.Bus.PollInterval, 0)
	chain := func(c pipeline.ChainConfig, stage pipeline.Stage, sinkFn pipeline.SinkFunc) {
		c.Concurrency = cfg.Bus.Concurrency
		c.PollInterval = pollInterval
		wrapped := pipeline.NewStatusStage(stage, trackerClient, a.logger)
		a.chains = append(a.chains, pipeline.NewChain(c, wrapped, a.bus, a.bus, sinkFn, a.deadLetters, a.logger))
	}

	chain(pipeline.ChainConfig{
		InputTopic:   cfg.Topics.Resource,
		Intake:       true,
		MaxBatchSize: cfg.Batching.Gateway.MaxSize,
		BatchWindow:  common.Duration(cfg.Batching.Gateway.Window, 0),
	}, gatewayStage, nil)

	chain(pipeline.ChainConfig{
		InputTopic:   cfg.Topics.GitHub,
		OutputTopic:  cfg.Topics.Raw,
		MaxBatchSize: cfg.Batching.Fetch.MaxSize,
		BatchWindow:  common.Duration(cfg.Batching.Fetch.Window, 0),
	}, githubStage, nil)

	chain(pipeline.ChainConfig{
		InputTopic:   cfg.Topics.PDF,
		OutputTopic:  cfg.Topics.Raw,
		MaxBatchSize: cfg.Batching.Fetch.MaxSize,
		BatchWindow:  common.Duration(cfg.Batching.Fetch.Window, 0),
	}, pdfStage, nil)

	chain(pipeline.ChainConfig{
		InputTopic:   cfg.Topics.Raw,
		OutputTopic:  cfg.Topics.Summarized,
		MaxBatchSize: cfg.Batching.Summarize.MaxSize,
		BatchWindow:  common.Duration(cfg.Batching.Summarize.Window, 0),
	}, summarizeStage, nil)

	chain(pipeline.ChainConfig{
		InputTopic:   cfg.Topics.Summarized,
		MaxBatchSize: cfg.Batching.Store.MaxSize,
		BatchWindow:  common.Duration(cfg.Batching.Store.Window, 0),
	}, storeStage, delivery.Deliver)

	return nil
}

// Start launches every chain and the maintenance scheduler.
func (a *App) Start(ctx context.Context) {
	for _, c := range a.chains {
		c.Start(ctx)
	}
	if a.maintenance != nil {
		a.maintenance.Start()
	}

	a.logger.Info().
		Int("chains", len(a.chains)).
		Str("environment", a.config.Environment).
		Msg("Pipeline started")
}

// Close shuts everything down in reverse dependency order. Chains stop
// first so in-flight batches flush before storage closes.
func (a *App) Close() {
	if a.maintenance != nil {
		a.maintenance.Stop()
	}
	for _, c := range a.chains {
		c.Stop()
	}
	if a.vectorIndex != nil {
		a.vectorIndex.Close()
	}
	if a.deadLetters != nil {
		if err := a.deadLetters.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close dead-letter store")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close message store")
		}
	}
}
