package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"rag-retriever/internal/domain"
)

const chunkTable = "embeddings"

const candidateColumns = `chunk_id, page_content,
		COALESCE(tables, ''), COALESCE(images, ''), COALESCE(videos, ''),
		COALESCE("references", ''), COALESCE(category, ''), COALESCE(url, '')`

var importColumns = []string{
	"chunk_id", "embedding", "page_content", "content_hash",
	"tables", "images", "videos", "references", "category", "url",
	"created_at", "updated_at",
}

type chunkRepository struct {
	pool PgxPool
}

// NewChunkRepository creates a repository over the embeddings table.
func NewChunkRepository(pool PgxPool) *chunkRepository {
	return &chunkRepository{pool: pool}
}

var (
	_ domain.ChunkSearchRepository = (*chunkRepository)(nil)
	_ domain.ChunkImportRepository = (*chunkRepository)(nil)
)

type dbExecutor interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *chunkRepository) getExecutor(ctx context.Context) dbExecutor {
	tx := ExtractTx(ctx)
	if tx != nil {
		return tx
	}
	return r.pool
}

// LexicalSearch runs a BM25 query through pg_search, best match first.
func (r *chunkRepository) LexicalSearch(ctx context.Context, query string, filter domain.CategoryFilter, limit int) ([]domain.DocumentCandidate, error) {
	args := []any{query}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(candidateColumns)
	sb.WriteString("\n\t\tFROM " + chunkTable + "\n\t\tWHERE page_content @@@ $1")
	if !filter.IsAny() {
		args = append(args, filter.Category())
		sb.WriteString(" AND category = $" + strconv.Itoa(len(args)))
	}
	args = append(args, limit)
	sb.WriteString("\n\t\tORDER BY paradedb.score(chunk_id) DESC\n\t\tLIMIT $" + strconv.Itoa(len(args)))

	candidates, err := r.queryCandidates(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run lexical search: %w", err)
	}
	return candidates, nil
}

// SemanticSearch orders chunks by L2 distance to vector, nearest first.
func (r *chunkRepository) SemanticSearch(ctx context.Context, vector []float32, filter domain.CategoryFilter, limit int) ([]domain.DocumentCandidate, error) {
	args := []any{pgvector.NewVector(vector)}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(candidateColumns)
	sb.WriteString("\n\t\tFROM " + chunkTable)
	if !filter.IsAny() {
		args = append(args, filter.Category())
		sb.WriteString("\n\t\tWHERE category = $" + strconv.Itoa(len(args)))
	}
	args = append(args, limit)
	sb.WriteString("\n\t\tORDER BY embedding <-> $1\n\t\tLIMIT $" + strconv.Itoa(len(args)))

	candidates, err := r.queryCandidates(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run semantic search: %w", err)
	}
	return candidates, nil
}

func (r *chunkRepository) queryCandidates(ctx context.Context, query string, args ...any) ([]domain.DocumentCandidate, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.DocumentCandidate
	for rows.Next() {
		var c domain.DocumentCandidate
		if err := rows.Scan(&c.ID, &c.Content, &c.Tables, &c.Images, &c.Videos, &c.References, &c.Category, &c.URL); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return candidates, nil
}

// BulkInsertChunks loads records with COPY.
func (r *chunkRepository) BulkInsertChunks(ctx context.Context, records []domain.ChunkRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = []any{
			rec.ChunkID,
			rec.Embedding,
			rec.PageContent,
			rec.ContentHash,
			rec.Tables,
			rec.Images,
			rec.Videos,
			rec.References,
			rec.Category,
			rec.URL,
			rec.CreatedAt,
			rec.UpdatedAt,
		}
	}

	n, err := r.getExecutor(ctx).CopyFrom(
		ctx,
		pgx.Identifier{chunkTable},
		importColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert chunks: %w", err)
	}
	return n, nil
}
