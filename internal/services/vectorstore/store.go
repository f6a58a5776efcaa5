package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/ternarybob/arbor"

	"github.com/marcwadey/granary/internal/interfaces"
)

// PgStore persists embeddings in Postgres with the pgvector extension.
// One table per collection, created on first use. Upserts by vector id
// so redelivered messages overwrite rather than duplicate.
type PgStore struct {
	pool      *pgxpool.Pool
	dimension int
	logger    arbor.ILogger

	mu      sync.Mutex
	ensured map[string]bool
}

// Compile-time interface assertion
var _ interfaces.VectorIndex = (*PgStore)(nil)

// NewPgStore connects to Postgres and verifies the connection.
func NewPgStore(ctx context.Context, dsn string, dimension int, logger arbor.ILogger) (*PgStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("vector store dsn is required")
	}
	if dimension <= 0 {
		dimension = 768
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to vector store: %w", err)
	}

	return &PgStore{
		pool:      pool,
		dimension: dimension,
		logger:    logger,
		ensured:   make(map[string]bool),
	}, nil
}

// Upsert writes records into the collection's table inside one
// transaction, so a batch lands fully or not at all.
func (s *PgStore) Upsert(ctx context.Context, collection string, records []interfaces.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	table, err := s.ensureCollection(ctx, collection)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = now()`, table)

	batch := &pgx.Batch{}
	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.ID, err)
		}
		batch.Queue(sql, rec.ID, rec.Content, meta, pgvector.NewVector(rec.Embedding))
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to upsert into %s: %w", table, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	s.logger.Debug().
		Str("collection", collection).
		Int("records", len(records)).
		Msg("Upserted vector records")
	return nil
}

// ensureCollection creates the collection table once per process.
func (s *PgStore) ensureCollection(ctx context.Context, collection string) (string, error) {
	table, err := tableName(collection)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	done := s.ensured[table]
	s.mu.Unlock()
	if done {
		return table, nil
	}

	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			content text NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`, table, s.dimension)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("failed to ensure collection %s: %w", collection, err)
	}

	s.mu.Lock()
	s.ensured[table] = true
	s.mu.Unlock()
	return table, nil
}

// Close releases the connection pool.
func (s *PgStore) Close() {
	s.pool.Close()
}

// tableName maps a collection name onto a safe SQL identifier. Table
// names cannot be bound as parameters, so the name is validated
// strictly instead.
func tableName(collection string) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("collection name is required")
	}
	for _, r := range collection {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return "", fmt.Errorf("invalid collection name %q", collection)
		}
	}
	safe := make([]byte, 0, len(collection))
	for i := 0; i < len(collection); i++ {
		c := collection[i]
		if c == '-' {
			c = '_'
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		safe = append(safe, c)
	}
	return "vectors_" + string(safe), nil
}
