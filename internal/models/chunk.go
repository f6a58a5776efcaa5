package models

// Chunk document types. Summaries produced by the LLM stage carry
// DocTypeSummary so downstream consumers can distinguish them from
// source content.
const (
	DocTypeOriginal = "ORIGINAL"
	DocTypeSummary  = "SUMMARY"
)

// Metadata keys with pipeline-wide meaning.
const (
	MetaOriginalTopic  = "original_topic"
	MetaOutputTopic    = "output_topic"
	MetaCollectionName = "collection_name"
	MetaDocumentCount  = "document_count"
	MetaChunkCount     = "chunk_count"
	MetaDocType        = "doc_type"
)

// Chunk is a unit of extracted content flowing from the fetch stage
// through summarization into the vector store. Metadata must carry the
// stable attributes the store stage derives the idempotent vector id
// from (commit id + filename, or pdf url + page + chunk index).
type Chunk struct {
	Content  string         `json:"page_content"`
	Metadata map[string]any `json:"metadata"`
}

// MetaString returns a chunk metadata value as string, or "" if absent.
func (c *Chunk) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// StoreResult is the payload emitted by the vector-store stage after a
// successful upsert.
type StoreResult struct {
	CollectionName string   `json:"collection_name"`
	IDs            []string `json:"ids"`
}
