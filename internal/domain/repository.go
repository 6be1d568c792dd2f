package domain

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
)

// ChunkRecord is a full row of the chunk table, as written by the bulk importer.
type ChunkRecord struct {
	ChunkID     string
	Embedding   pgvector.Vector
	PageContent string
	ContentHash string
	Tables      string
	Images      string
	Videos      string
	References  string
	Category    string
	URL         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkSearchRepository runs first-stage retrieval queries against the chunk table.
// Rows are returned in backend order with References as stored.
type ChunkSearchRepository interface {
	// LexicalSearch runs a relevance-scored full-text query, best match first.
	LexicalSearch(ctx context.Context, query string, filter CategoryFilter, limit int) ([]DocumentCandidate, error)

	// SemanticSearch returns the nearest chunks to vector under L2 distance, nearest first.
	SemanticSearch(ctx context.Context, vector []float32, filter CategoryFilter, limit int) ([]DocumentCandidate, error)
}

// ChunkImportRepository loads chunk rows in bulk.
type ChunkImportRepository interface {
	// BulkInsertChunks inserts records and returns the number of rows written.
	BulkInsertChunks(ctx context.Context, records []ChunkRecord) (int64, error)
}

// ChunkSource yields chunk records in batches. Next returns io.EOF once exhausted.
type ChunkSource interface {
	Next(ctx context.Context) ([]ChunkRecord, error)
}

// TransactionManager defines the interface for handling database transactions.
type TransactionManager interface {
	// RunInTx executes fn within a transaction on a leased connection.
	// The transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
