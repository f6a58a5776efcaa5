package summarize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/interfaces"
)

const builtinSystemPrompt = "You are a concise technical summarizer. " +
	"Summarize the provided content in a few sentences, preserving " +
	"identifiers, file names, and technical terms."

// ClaudeOptions configure the Claude summarizer.
type ClaudeOptions struct {
	APIKey         string
	DefaultModel   string
	DefaultPrompt  string
	MaxTokens      int
	MaxConcurrency int
	Retries        int
}

// ClaudeSummarizer produces summaries through the Anthropic Messages
// API. Texts within one call are summarized concurrently up to
// MaxConcurrency; outputs keep input order.
type ClaudeSummarizer struct {
	client        anthropic.Client
	defaultModel  string
	defaultPrompt string
	maxTokens     int64
	concurrency   int
	retries       int
	logger        arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Summarizer = (*ClaudeSummarizer)(nil)

// NewClaudeSummarizer creates the summarizer.
func NewClaudeSummarizer(opts ClaudeOptions, logger arbor.ILogger) (*ClaudeSummarizer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}

	model := opts.DefaultModel
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	defaultPrompt := opts.DefaultPrompt
	if defaultPrompt == "" {
		defaultPrompt = builtinSystemPrompt
	}

	client := anthropic.NewClient(
		option.WithAPIKey(opts.APIKey),
	)

	return &ClaudeSummarizer{
		client:        client,
		defaultModel:  model,
		defaultPrompt: defaultPrompt,
		maxTokens:     int64(maxTokens),
		concurrency:   concurrency,
		retries:       retries,
		logger:        logger,
	}, nil
}

// Summarize returns one summary per input text, in order. The prompt
// and model override the defaults when non-empty; both typically
// originate from the triggering resource event. Any single failure
// fails the whole call.
func (c *ClaudeSummarizer) Summarize(ctx context.Context, texts []string, prompt, model string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	systemText := c.systemPrompt(prompt)
	if model == "" {
		model = c.defaultModel
	}

	summaries := make([]string, len(texts))
	errs := make([]error, len(texts))

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			summaries[i], errs[i] = c.summarizeOne(ctx, text, systemText, model)
		}(i, text)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to summarize text %d of %d: %w", i+1, len(texts), err)
		}
	}
	return summaries, nil
}

// systemPrompt resolves the system prompt for a call: a per-job
// override wins, then the configured default, then the builtin.
func (c *ClaudeSummarizer) systemPrompt(override string) string {
	if override != "" {
		return override
	}
	return c.defaultPrompt
}

// summarizeOne runs a single Messages call with retries on transient
// errors.
func (c *ClaudeSummarizer) summarizeOne(ctx context.Context, text, systemText, model string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemText},
		},
	}

	var resp *anthropic.Message
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		resp, err = c.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("model", model).
			Msg("Claude request failed")
	}
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}

	summary := strings.TrimSpace(builder.String())
	if summary == "" {
		return "", fmt.Errorf("model %s returned no text content", model)
	}
	return summary, nil
}
