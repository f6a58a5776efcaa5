package summarize

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/interfaces"
	"github.com/marcwadey/granary/internal/models"
)

// Service summarizes fetched content chunks. Each input chunk yields
// two output chunks: the original marked ORIGINAL and its summary
// marked SUMMARY, both carrying the source chunk's metadata so the
// store stage derives distinct but stable vector ids for each.
type Service struct {
	summarizer interfaces.Summarizer
	logger     arbor.ILogger
}

// NewService creates the summarization stage.
func NewService(summarizer interfaces.Summarizer, logger arbor.ILogger) *Service {
	return &Service{
		summarizer: summarizer,
		logger:     logger,
	}
}

// Name returns the summarize step type.
func (s *Service) Name() models.StepType {
	return models.StepTypeSummarize
}

// Process summarizes every chunk in the envelope. A failure on any
// chunk fails the whole message; no partial output is emitted.
func (s *Service) Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error) {
	var chunks []models.Chunk
	if err := msg.DecodeData(&chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunk list: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to summarize")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	summaries, err := s.summarizer.Summarize(ctx, texts, msg.Prompt, msg.Model)
	if err != nil {
		return nil, err
	}
	if len(summaries) != len(chunks) {
		return nil, fmt.Errorf("summarizer returned %d summaries for %d chunks", len(summaries), len(chunks))
	}

	out := make([]models.Chunk, 0, len(chunks)*2)
	for i, c := range chunks {
		original := models.Chunk{
			Content:  c.Content,
			Metadata: cloneWith(c.Metadata, models.DocTypeOriginal),
		}
		summary := models.Chunk{
			Content:  summaries[i],
			Metadata: cloneWith(c.Metadata, models.DocTypeSummary),
		}
		out = append(out, original, summary)
	}

	s.logger.Info().
		Str("job_id", msg.JobID).
		Int("chunks", len(chunks)).
		Int("documents", len(out)).
		Msg("Summarized content chunks")

	next := msg.Next()
	next.StepNumber = msg.StepNumber
	if err := next.SetData(out); err != nil {
		return nil, err
	}
	next.SetMeta(models.MetaDocumentCount, len(out))
	return []*models.Envelope{next}, nil
}

// cloneWith copies chunk metadata and stamps the document type.
func cloneWith(meta map[string]any, docType string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[models.MetaDocType] = docType
	return out
}
