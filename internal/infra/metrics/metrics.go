// Package metrics provides Prometheus metrics for rag-retriever.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ragretriever"

var (
	// RetrievalsTotal counts retrieval calls by outcome.
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total number of retrieval calls",
		},
		[]string{"status"},
	)

	// StageDuration measures pipeline stage duration.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of retrieval pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// StageFailuresTotal counts failed stages, absorbed or not.
	StageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of failed retrieval stages",
		},
		[]string{"stage"},
	)

	// LexicalFallbackTotal counts conjunctive fallback queries issued by the lexical stage.
	LexicalFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lexical_fallback_total",
			Help:      "Total number of lexical fallback queries",
		},
	)

	// RerankDegradedTotal counts retrievals served in merge order because reranking failed.
	RerankDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_degraded_total",
			Help:      "Total number of reranks that fell back to merge order",
		},
		[]string{"reason"},
	)

	// Candidates observes candidate list sizes per stage.
	Candidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates",
			Help:      "Distribution of candidate counts per stage",
			Buckets:   []float64{0, 1, 3, 5, 10, 25, 50},
		},
		[]string{"stage"},
	)

	// EmbeddingAttemptsTotal counts embedding backend calls by outcome.
	EmbeddingAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_attempts_total",
			Help:      "Total number of embedding backend attempts",
		},
		[]string{"outcome"},
	)

	// EmbeddingCacheTotal counts embedding cache lookups.
	EmbeddingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Total number of embedding cache lookups",
		},
		[]string{"result"},
	)

	// ImportRowsTotal counts chunk rows written by the bulk importer.
	ImportRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Total number of chunk rows imported",
		},
	)
)
