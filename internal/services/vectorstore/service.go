package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/common"
	"github.com/marcwadey/granary/internal/interfaces"
	"github.com/marcwadey/granary/internal/models"
)

// Service embeds summarized chunks and upserts them into the vector
// index. Vector ids are derived from the chunk's stable source
// attributes, so re-running a job overwrites its previous vectors
// instead of accumulating duplicates.
type Service struct {
	embedder          interfaces.Embedder
	index             interfaces.VectorIndex
	defaultCollection string
	logger            arbor.ILogger
}

// NewService creates the vector-store stage.
func NewService(embedder interfaces.Embedder, index interfaces.VectorIndex, defaultCollection string, logger arbor.ILogger) *Service {
	if defaultCollection == "" {
		defaultCollection = "granary_default"
	}
	return &Service{
		embedder:          embedder,
		index:             index,
		defaultCollection: defaultCollection,
		logger:            logger,
	}
}

// Name returns the store step type.
func (s *Service) Name() models.StepType {
	return models.StepTypeStore
}

// Process embeds every chunk and writes the batch per collection. The
// result envelope reports the stored ids for the delivery sink.
func (s *Service) Process(ctx context.Context, msg *models.Envelope) ([]*models.Envelope, error) {
	var chunks []models.Chunk
	if err := msg.DecodeData(&chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunk list: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to store")
	}

	byCollection := make(map[string][]interfaces.VectorRecord)
	var allIDs []string

	for i, chunk := range chunks {
		collection := chunk.MetaString(models.MetaCollectionName)
		if collection == "" {
			collection = msg.MetaString(models.MetaCollectionName)
		}
		if collection == "" {
			collection = s.defaultCollection
		}

		embedding, err := s.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d of %d: %w", i+1, len(chunks), err)
		}

		id := vectorID(msg.JobID, &chunk)
		byCollection[collection] = append(byCollection[collection], interfaces.VectorRecord{
			ID:        id,
			Content:   chunk.Content,
			Metadata:  chunk.Metadata,
			Embedding: embedding,
		})
		allIDs = append(allIDs, id)
	}

	var resultCollection string
	for collection, records := range byCollection {
		if err := s.index.Upsert(ctx, collection, records); err != nil {
			return nil, err
		}
		resultCollection = collection
	}

	s.logger.Info().
		Str("job_id", msg.JobID).
		Int("vectors", len(allIDs)).
		Int("collections", len(byCollection)).
		Msg("Stored embeddings")

	out := msg.Next()
	out.StepNumber = msg.StepNumber
	if err := out.SetData(models.StoreResult{
		CollectionName: resultCollection,
		IDs:            allIDs,
	}); err != nil {
		return nil, err
	}
	return []*models.Envelope{out}, nil
}

// vectorID derives a deterministic id from the chunk's stable source
// attributes. Commit chunks key on commit id and filename; pdf chunks
// on url, page, and chunk index. The doc type keeps an original and
// its summary distinct.
func vectorID(jobID string, chunk *models.Chunk) string {
	docType := chunk.MetaString(models.MetaDocType)

	if commitID := chunk.MetaString("commit_id"); commitID != "" {
		return common.DeriveChunkID(commitID, chunk.MetaString("filename"), docType)
	}

	if pdfURL := chunk.MetaString("pdf_url"); pdfURL != "" {
		return common.DeriveChunkID(pdfURL, metaInt(chunk, "page"), metaInt(chunk, "chunk_index"), docType)
	}

	return common.DeriveChunkID(jobID, chunk.Content, docType)
}

// metaInt renders a numeric metadata value as a stable string. JSON
// round-trips turn ints into float64, so both arrive here.
func metaInt(chunk *models.Chunk, key string) string {
	if chunk.Metadata == nil {
		return "0"
	}
	switch v := chunk.Metadata[key].(type) {
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.Itoa(int(v))
	case string:
		return v
	default:
		return "0"
	}
}
