package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/metrics"
	"rag-retriever/internal/infra/otel"
)

// RerankConfig holds reranking stage parameters.
type RerankConfig struct {
	TopK            int
	BackupK         int
	DegradedTopK    int
	DegradedBackupK int
	Timeout         time.Duration
}

// Sigmoid maps a raw cross-encoder logit into (0,1) without overflowing for large |x|.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// SelectBackup returns the k best scored candidates regardless of threshold.
func SelectBackup(scored []domain.DocumentCandidate, k int) []domain.DocumentCandidate {
	return topByCrossScore(scored, k)
}

// SelectPrimary returns the k best scored candidates whose CrossScore reaches threshold.
func SelectPrimary(scored []domain.DocumentCandidate, threshold float64, k int) []domain.DocumentCandidate {
	qualified := make([]domain.DocumentCandidate, 0, len(scored))
	for _, c := range scored {
		if c.CrossScore != nil && *c.CrossScore >= threshold {
			qualified = append(qualified, c)
		}
	}
	return topByCrossScore(qualified, k)
}

// topByCrossScore sorts a copy stably, so equal scores keep merge order.
func topByCrossScore(candidates []domain.DocumentCandidate, k int) []domain.DocumentCandidate {
	sorted := make([]domain.DocumentCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return crossScore(sorted[i]) > crossScore(sorted[j])
	})
	return firstN(sorted, k)
}

func crossScore(c domain.DocumentCandidate) float64 {
	if c.CrossScore == nil {
		return math.Inf(-1)
	}
	return *c.CrossScore
}

func firstN(candidates []domain.DocumentCandidate, n int) []domain.DocumentCandidate {
	if n < 0 {
		n = 0
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]domain.DocumentCandidate, len(candidates))
	copy(out, candidates)
	return out
}

// Rerank scores the merged candidates with the cross-encoder and fills Final and Backup (Stage 4).
// Reranker failures never propagate: the stage degrades to merge order without scores.
func Rerank(
	ctx context.Context,
	sc *StageContext,
	reranker domain.Reranker,
	cfg RerankConfig,
	baseLogger *slog.Logger,
) {
	ctx, span := otel.Tracer().Start(ctx, "rerank")
	defer span.End()
	ctx = logger.WithStage(ctx, "rerank")
	log := logger.FromContext(ctx, baseLogger)

	if len(sc.Merged) == 0 {
		sc.Final = []domain.DocumentCandidate{}
		sc.Backup = []domain.DocumentCandidate{}
		return
	}

	rerankStart := time.Now()

	candidates := make([]domain.RerankCandidate, len(sc.Merged))
	for i, c := range sc.Merged {
		candidates[i] = domain.RerankCandidate{ID: c.ID, Content: c.Content}
	}

	rerankCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		rerankCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	reranked, err := reranker.Rerank(rerankCtx, sc.Query, candidates)
	var scored []domain.DocumentCandidate
	if err == nil {
		scored, err = applyScores(sc.Merged, reranked)
	}

	rerankDuration := time.Since(rerankStart)
	metrics.StageDuration.WithLabelValues("rerank").Observe(rerankDuration.Seconds())

	if err != nil {
		reason := degradedReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rerank failed")
		span.SetAttributes(attribute.Bool("retriever.rerank.degraded", true))
		metrics.StageFailuresTotal.WithLabelValues("rerank").Inc()
		metrics.RerankDegradedTotal.WithLabelValues(reason).Inc()
		log.Warn("reranking_failed_using_merge_order",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", rerankDuration.Milliseconds()))

		sc.Degraded = true
		sc.Final = firstN(sc.Merged, cfg.DegradedTopK)
		sc.Backup = firstN(sc.Merged, cfg.DegradedBackupK)
		return
	}

	sc.Backup = SelectBackup(scored, cfg.BackupK)
	sc.Final = SelectPrimary(scored, sc.Threshold, cfg.TopK)

	metrics.Candidates.WithLabelValues("final").Observe(float64(len(sc.Final)))
	span.SetAttributes(
		attribute.Int("retriever.rerank.candidates", len(candidates)),
		attribute.Int("retriever.rerank.final", len(sc.Final)),
		attribute.Int("retriever.rerank.backup", len(sc.Backup)),
	)
	log.Info("reranking_completed",
		slog.Int("candidate_count", len(candidates)),
		slog.Int("final_count", len(sc.Final)),
		slog.Int("backup_count", len(sc.Backup)),
		slog.String("model", reranker.ModelName()),
		slog.Int64("duration_ms", rerankDuration.Milliseconds()))
}

// applyScores returns copies of merged carrying Sigmoid(raw) as CrossScore, in merge order.
func applyScores(merged []domain.DocumentCandidate, reranked []domain.RerankResult) ([]domain.DocumentCandidate, error) {
	if len(reranked) != len(merged) {
		return nil, fmt.Errorf("%w: expected %d scores, got %d", domain.ErrRerankMalformedResponse, len(merged), len(reranked))
	}

	raw := make(map[string]float64, len(reranked))
	for _, r := range reranked {
		raw[r.ID] = r.Score
	}

	scored := make([]domain.DocumentCandidate, len(merged))
	for i, c := range merged {
		s, ok := raw[c.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no score for candidate %s", domain.ErrRerankMalformedResponse, c.ID)
		}
		scored[i] = c.WithCrossScore(Sigmoid(s))
	}
	return scored, nil
}

func degradedReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrRerankMalformedResponse):
		return "malformed_response"
	default:
		return "backend_error"
	}
}
