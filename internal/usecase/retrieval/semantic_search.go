package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/metrics"
	"rag-retriever/internal/infra/otel"
)

// SemanticConfig holds semantic stage parameters.
type SemanticConfig struct {
	Limit int
}

// SemanticSearch fetches the nearest chunks to the query embedding (Stage 2).
// It runs regardless of what the lexical stage found. Storage errors are returned.
func SemanticSearch(
	ctx context.Context,
	sc *StageContext,
	repo domain.ChunkSearchRepository,
	txm domain.TransactionManager,
	cfg SemanticConfig,
	baseLogger *slog.Logger,
) error {
	ctx, span := otel.Tracer().Start(ctx, "semantic_search")
	defer span.End()
	ctx = logger.WithStage(ctx, "semantic_search")
	log := logger.FromContext(ctx, baseLogger)

	start := time.Now()
	var hits []domain.DocumentCandidate

	err := txm.RunInTx(ctx, func(ctx context.Context) error {
		rows, err := repo.SemanticSearch(ctx, sc.QueryEmbedding, sc.Category, cfg.Limit)
		if err != nil {
			return err
		}
		hits = appendUnseen(nil, rows)
		return nil
	})

	duration := time.Since(start)
	metrics.StageDuration.WithLabelValues("semantic_search").Observe(duration.Seconds())

	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrStorage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "semantic search failed")
		metrics.StageFailuresTotal.WithLabelValues("semantic_search").Inc()
		log.Error("semantic_search_failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()))
		return err
	}

	sc.SemanticHits = hits
	metrics.Candidates.WithLabelValues("semantic").Observe(float64(len(hits)))
	span.SetAttributes(attribute.Int("retriever.semantic.hits", len(hits)))
	log.Info("semantic_search_completed",
		slog.Int("hits", len(hits)),
		slog.Int64("duration_ms", duration.Milliseconds()))
	return nil
}
