package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/metrics"
)

// ImportChunksInput describes one bulk load.
type ImportChunksInput struct {
	// Source yields the rows to load.
	Source domain.ChunkSource
	// Dimension is the expected embedding length. Zero disables the check.
	Dimension int
	// Label names the source in logs, typically the file path.
	Label string
}

// ImportChunksOutput summarizes a finished load.
type ImportChunksOutput struct {
	Rows     int64
	Batches  int
	Duration time.Duration
}

// ImportChunksUsecase loads chunk rows into the search table.
type ImportChunksUsecase interface {
	Execute(ctx context.Context, input ImportChunksInput) (*ImportChunksOutput, error)
}

type importChunksUsecase struct {
	repo       domain.ChunkImportRepository
	txManager  domain.TransactionManager
	hashPolicy domain.ContentHashPolicy
	now        func() time.Time
	logger     *slog.Logger
}

// NewImportChunksUsecase creates a new ImportChunksUsecase.
func NewImportChunksUsecase(
	repo domain.ChunkImportRepository,
	txManager domain.TransactionManager,
	hashPolicy domain.ContentHashPolicy,
	logger *slog.Logger,
) ImportChunksUsecase {
	return &importChunksUsecase{
		repo:       repo,
		txManager:  txManager,
		hashPolicy: hashPolicy,
		now:        time.Now,
		logger:     logger,
	}
}

// Execute reads every batch and writes them all inside one transaction.
// Any invalid row aborts the whole load.
func (u *importChunksUsecase) Execute(ctx context.Context, input ImportChunksInput) (*ImportChunksOutput, error) {
	if input.Source == nil {
		return nil, errors.New("import source is nil")
	}

	ctx = logger.WithImportFile(ctx, input.Label)
	log := logger.FromContext(ctx, u.logger)
	start := time.Now()
	importedAt := u.now().UTC()

	out := &ImportChunksOutput{}
	seen := make(map[string]struct{})

	err := u.txManager.RunInTx(ctx, func(ctx context.Context) error {
		for {
			batch, err := input.Source.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read batch %d: %w", out.Batches+1, err)
			}
			if len(batch) == 0 {
				continue
			}

			for i := range batch {
				if err := u.prepare(&batch[i], input.Dimension, importedAt, seen); err != nil {
					return err
				}
			}

			n, err := u.repo.BulkInsertChunks(ctx, batch)
			if err != nil {
				return fmt.Errorf("failed to insert batch %d: %w", out.Batches+1, err)
			}
			out.Batches++
			out.Rows += n

			log.Info("import_batch_written",
				slog.Int("batch", out.Batches),
				slog.Int64("rows", n),
				slog.Int64("total_rows", out.Rows))
		}
	})
	out.Duration = time.Since(start)

	if err != nil {
		log.Error("import_failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", out.Duration.Milliseconds()))
		return nil, err
	}

	metrics.ImportRowsTotal.Add(float64(out.Rows))
	log.Info("import_completed",
		slog.Int64("rows", out.Rows),
		slog.Int("batches", out.Batches),
		slog.Int64("duration_ms", out.Duration.Milliseconds()))
	return out, nil
}

func (u *importChunksUsecase) prepare(rec *domain.ChunkRecord, dimension int, importedAt time.Time, seen map[string]struct{}) error {
	rec.ChunkID = strings.TrimSpace(rec.ChunkID)
	if rec.ChunkID == "" {
		return errors.New("chunk_id is empty")
	}
	if _, dup := seen[rec.ChunkID]; dup {
		return fmt.Errorf("duplicate chunk_id %q", rec.ChunkID)
	}
	seen[rec.ChunkID] = struct{}{}

	if strings.TrimSpace(rec.PageContent) == "" {
		return fmt.Errorf("chunk %s: page_content is empty", rec.ChunkID)
	}
	if got := len(rec.Embedding.Slice()); got == 0 || (dimension > 0 && got != dimension) {
		return fmt.Errorf("chunk %s: embedding dimension %d, expected %d", rec.ChunkID, got, dimension)
	}
	if rec.ContentHash == "" {
		rec.ContentHash = u.hashPolicy.Compute(rec.PageContent)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = importedAt
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	return nil
}
