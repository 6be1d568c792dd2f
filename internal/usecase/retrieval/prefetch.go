package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/metrics"
	"rag-retriever/internal/infra/otel"
)

// Prefetch embeds the query and runs the lexical stage in parallel (Stage 1).
// Only an embedding failure is returned; lexical failures are absorbed by LexicalSearch.
func Prefetch(
	ctx context.Context,
	sc *StageContext,
	encoder domain.VectorEncoder,
	repo domain.ChunkSearchRepository,
	txm domain.TransactionManager,
	lexCfg LexicalConfig,
	baseLogger *slog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	// goroutine A: lexical search
	g.Go(func() error {
		LexicalSearch(gctx, sc, repo, txm, lexCfg, baseLogger)
		return nil
	})

	// goroutine B: query embedding
	g.Go(func() error {
		vec, err := embedQuery(gctx, sc, encoder, baseLogger)
		if err != nil {
			return err
		}
		sc.QueryEmbedding = vec
		return nil
	})

	return g.Wait()
}

func embedQuery(ctx context.Context, sc *StageContext, encoder domain.VectorEncoder, baseLogger *slog.Logger) ([]float32, error) {
	ctx, span := otel.Tracer().Start(ctx, "embed")
	defer span.End()
	ctx = logger.WithStage(ctx, "embed")
	log := logger.FromContext(ctx, baseLogger)

	start := time.Now()
	embeddings, err := encoder.Encode(ctx, []string{sc.Query})
	duration := time.Since(start)
	metrics.StageDuration.WithLabelValues("embed").Observe(duration.Seconds())

	if err == nil && len(embeddings) == 0 {
		err = fmt.Errorf("%w: no embedding returned for query", domain.ErrEmbeddingUnavailable)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		metrics.StageFailuresTotal.WithLabelValues("embed").Inc()
		log.Error("query_embedding_failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()))
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	log.Info("query_embedded",
		slog.Int("dimension", len(embeddings[0])),
		slog.String("model", encoder.Version()),
		slog.Int64("duration_ms", duration.Milliseconds()))
	return embeddings[0], nil
}
