package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/metrics"
	"rag-retriever/internal/infra/otel"
	"rag-retriever/internal/usecase/retrieval"
)

// RetrieveDocumentsUsecase defines the interface for hybrid retrieval with reranking.
type RetrieveDocumentsUsecase interface {
	Execute(ctx context.Context, q domain.QueryContext) (*domain.RetrievalResult, error)
	RetrieveWithFallbackQuery(ctx context.Context, rewritten, original string, category domain.CategoryFilter, threshold float64) (*domain.RetrievalResult, error)
}

type retrieveDocumentsUsecase struct {
	chunkRepo domain.ChunkSearchRepository
	txManager domain.TransactionManager
	encoder   domain.VectorEncoder
	reranker  domain.Reranker
	config    RetrievalConfig
	logger    *slog.Logger
}

// NewRetrieveDocumentsUsecase creates a new RetrieveDocumentsUsecase.
func NewRetrieveDocumentsUsecase(
	chunkRepo domain.ChunkSearchRepository,
	txManager domain.TransactionManager,
	encoder domain.VectorEncoder,
	reranker domain.Reranker,
	config RetrievalConfig,
	logger *slog.Logger,
) RetrieveDocumentsUsecase {
	return &retrieveDocumentsUsecase{
		chunkRepo: chunkRepo,
		txManager: txManager,
		encoder:   encoder,
		reranker:  reranker,
		config:    config,
		logger:    logger,
	}
}

func (u *retrieveDocumentsUsecase) Execute(ctx context.Context, q domain.QueryContext) (*domain.RetrievalResult, error) {
	if err := q.Validate(); err != nil {
		metrics.RetrievalsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	retrievalID := uuid.NewString()
	ctx = logger.WithRetrievalID(ctx, retrievalID)
	ctx = logger.WithCategory(ctx, q.Category.String())
	log := logger.FromContext(ctx, u.logger)

	ctx, span := otel.Tracer().Start(ctx, "retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retriever.retrieval.id", retrievalID),
		attribute.String("retriever.category", q.Category.String()),
		attribute.Float64("retriever.threshold", q.Threshold),
	)

	start := time.Now()
	sc := retrieval.NewStageContext(retrievalID, q)

	log.Info("retrieval_started",
		slog.String("query", q.Query),
		slog.Float64("threshold", q.Threshold))

	// Stage 1: query embedding and lexical search, overlapped
	if err := retrieval.Prefetch(ctx, sc, u.encoder, u.chunkRepo, u.txManager, u.config.lexical(), u.logger); err != nil {
		return nil, u.fail(span, embeddingFailureStatus(err), err)
	}

	// Stage 2: semantic search
	if err := retrieval.SemanticSearch(ctx, sc, u.chunkRepo, u.txManager, u.config.semantic(), u.logger); err != nil {
		return nil, u.fail(span, "storage_error", fmt.Errorf("failed to search chunks: %w", err))
	}

	// Stage 3: merge
	sc.Merged = retrieval.MergeCandidates(sc.LexicalHits, sc.SemanticHits)
	metrics.Candidates.WithLabelValues("merged").Observe(float64(len(sc.Merged)))

	// Stage 4: rerank and select
	retrieval.Rerank(ctx, sc, u.reranker, u.config.rerank(), u.logger)

	result := &domain.RetrievalResult{
		RetrievalID:  retrievalID,
		FinalRerank:  retrieval.DedupByID(sc.Final),
		BackupRerank: retrieval.DedupByID(sc.Backup),
	}

	status := "success"
	if sc.Degraded {
		status = "degraded"
	}
	metrics.RetrievalsTotal.WithLabelValues(status).Inc()
	metrics.StageDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("retriever.lexical.hits", len(sc.LexicalHits)),
		attribute.Int("retriever.semantic.hits", len(sc.SemanticHits)),
		attribute.Int("retriever.merged", len(sc.Merged)),
		attribute.Bool("retriever.rerank.degraded", sc.Degraded),
	)

	log.Info("retrieval_completed",
		slog.Int("lexical_hits", len(sc.LexicalHits)),
		slog.Int("semantic_hits", len(sc.SemanticHits)),
		slog.Int("merged", len(sc.Merged)),
		slog.Int("final", len(result.FinalRerank)),
		slog.Int("backup", len(result.BackupRerank)),
		slog.Bool("lexical_fallback", sc.UsedFallback),
		slog.Bool("degraded", sc.Degraded),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return result, nil
}

// RetrieveWithFallbackQuery retrieves with the rewritten query and retries with the
// original one when nothing passes the threshold.
func (u *retrieveDocumentsUsecase) RetrieveWithFallbackQuery(
	ctx context.Context,
	rewritten, original string,
	category domain.CategoryFilter,
	threshold float64,
) (*domain.RetrievalResult, error) {
	result, err := u.Execute(ctx, domain.QueryContext{Query: rewritten, Category: category, Threshold: threshold})
	if err != nil {
		return nil, err
	}
	if len(result.FinalRerank) > 0 {
		return result, nil
	}

	original = strings.TrimSpace(original)
	if original == "" || original == strings.TrimSpace(rewritten) {
		return result, nil
	}

	logger.FromContext(ctx, u.logger).Info("retrying_with_original_query",
		slog.String("previous_retrieval_id", result.RetrievalID))
	return u.Execute(ctx, domain.QueryContext{Query: original, Category: category, Threshold: threshold})
}

func (u *retrieveDocumentsUsecase) fail(span trace.Span, status string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
	metrics.RetrievalsTotal.WithLabelValues(status).Inc()
	return err
}

func embeddingFailureStatus(err error) string {
	if errors.Is(err, domain.ErrInvalidQuery) || errors.Is(err, domain.ErrInputTooLong) {
		return "invalid"
	}
	return "embedding_unavailable"
}
