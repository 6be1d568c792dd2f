package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/metrics"
	"rag-retriever/internal/infra/otel"
)

// LexicalConfig holds lexical stage parameters.
type LexicalConfig struct {
	Limit          int
	FallbackTokens int
}

// LexicalSearch runs the BM25 pass and, when it finds nothing, the conjunctive fallback pass (Stage 1b).
// Failures are logged and absorbed: the stage then contributes no candidates.
func LexicalSearch(
	ctx context.Context,
	sc *StageContext,
	repo domain.ChunkSearchRepository,
	txm domain.TransactionManager,
	cfg LexicalConfig,
	baseLogger *slog.Logger,
) {
	ctx, span := otel.Tracer().Start(ctx, "lexical_search")
	defer span.End()
	ctx = logger.WithStage(ctx, "lexical_search")
	log := logger.FromContext(ctx, baseLogger)

	start := time.Now()
	cleaned := CleanQuery(sc.Query)
	sc.LexicalCleaned = cleaned

	var hits []domain.DocumentCandidate
	usedFallback := false

	err := txm.RunInTx(ctx, func(ctx context.Context) error {
		if strings.TrimSpace(cleaned) != "" {
			rows, err := repo.LexicalSearch(ctx, cleaned, sc.Category, cfg.Limit)
			if err != nil {
				return err
			}
			hits = appendUnseen(hits, rows)
		}

		if len(hits) > 0 {
			return nil
		}

		fallback := FallbackQuery(cleaned, cfg.FallbackTokens)
		if fallback == "" {
			return nil
		}
		usedFallback = true
		metrics.LexicalFallbackTotal.Inc()
		log.Info("lexical_fallback_query",
			slog.String("fallback_query", fallback))

		rows, err := repo.LexicalSearch(ctx, fallback, sc.Category, cfg.Limit)
		if err != nil {
			return err
		}
		hits = appendUnseen(hits, rows)
		return nil
	})

	duration := time.Since(start)
	metrics.StageDuration.WithLabelValues("lexical_search").Observe(duration.Seconds())
	span.SetAttributes(attribute.Bool("retriever.lexical.fallback", usedFallback))

	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrLexicalBackend, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lexical search failed")
		metrics.StageFailuresTotal.WithLabelValues("lexical_search").Inc()
		log.Warn("lexical_search_failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()))
		sc.LexicalHits = nil
		sc.UsedFallback = usedFallback
		return
	}

	sc.LexicalHits = hits
	sc.UsedFallback = usedFallback
	metrics.Candidates.WithLabelValues("lexical").Observe(float64(len(hits)))
	span.SetAttributes(attribute.Int("retriever.lexical.hits", len(hits)))
	log.Info("lexical_search_completed",
		slog.Int("hits", len(hits)),
		slog.Bool("fallback", usedFallback),
		slog.Int64("duration_ms", duration.Milliseconds()))
}

// appendUnseen appends rows whose IDs are not in dst yet, enriching References on the way.
func appendUnseen(dst, rows []domain.DocumentCandidate) []domain.DocumentCandidate {
	seen := make(map[string]struct{}, len(dst)+len(rows))
	for _, c := range dst {
		seen[c.ID] = struct{}{}
	}
	for _, c := range rows {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		c.References = domain.JoinReferences(c.Content, c.References)
		dst = append(dst, c)
	}
	return dst
}
