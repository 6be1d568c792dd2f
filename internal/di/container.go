package di

import (
	"fmt"
	"log/slog"

	"rag-retriever/internal/adapter/bge"
	rag_http "rag-retriever/internal/adapter/rag_http"
	"rag-retriever/internal/adapter/repository"
	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/config"
	"rag-retriever/internal/infra/httpclient"
	"rag-retriever/internal/infra/retry"
	"rag-retriever/internal/usecase"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Repositories
	SearchRepo domain.ChunkSearchRepository
	ImportRepo domain.ChunkImportRepository
	TxManager  domain.TransactionManager

	// Model backends
	Encoder  domain.VectorEncoder
	Reranker domain.Reranker

	// Usecases
	RetrieveUsecase usecase.RetrieveDocumentsUsecase
	ImportUsecase   usecase.ImportChunksUsecase

	// HTTP
	Handler *rag_http.Handler

	RetrievalConfig usecase.RetrievalConfig
}

// RetrievalConfigFromSettings maps environment settings onto the pipeline config.
func RetrievalConfigFromSettings(s config.RetrievalSettings) usecase.RetrievalConfig {
	return usecase.RetrievalConfig{
		DefaultThreshold: s.DefaultThreshold,
		Reranking: usecase.RerankingConfig{
			TopK:            s.TopK,
			BackupK:         s.BackupK,
			DegradedTopK:    s.DegradedTopK,
			DegradedBackupK: s.DegradedBackupK,
			Timeout:         s.RerankTimeout,
		},
		HybridSearch: usecase.HybridSearchConfig{
			LexicalLimit:   s.LexicalLimit,
			SemanticLimit:  s.SemanticLimit,
			FallbackTokens: s.FallbackTokens,
		},
	}
}

// EmbedderConfigFromSettings maps environment settings onto the embedding client config.
func EmbedderConfigFromSettings(s config.EmbeddingSettings) bge.EmbedderConfig {
	cfg := bge.DefaultEmbedderConfig(s.URL)
	cfg.BatchSize = s.BatchSize
	cfg.MaxLength = s.MaxLength
	cfg.Dimension = s.Dimension
	cfg.MaxInputChars = s.MaxInputChars
	cfg.Overflow = bge.ParseOverflowPolicy(s.Overflow)
	cfg.Retry = retry.FixedPolicy(s.MaxRetries, s.RetryDelay)
	cfg.Timeout = s.Timeout
	return cfg
}

// NewApplicationComponents wires all dependencies from config and database pool.
// pinger may be nil, in which case /readyz always reports ready.
func NewApplicationComponents(cfg *config.Config, pool repository.PgxPool, pinger rag_http.Pinger, log *slog.Logger) (*ApplicationComponents, error) {
	retrievalConfig := RetrievalConfigFromSettings(cfg.Retrieval)
	if err := retrievalConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	embedderConfig := EmbedderConfigFromSettings(cfg.Embedding)
	if err := embedderConfig.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding retry config: %w", err)
	}

	// Repositories
	chunkRepo := repository.NewChunkRepository(pool)
	txManager := repository.NewPostgresTransactionManager(pool)

	// Shared HTTP clients with connection pooling
	embedHTTP := httpclient.NewPooledClient(cfg.Embedding.Timeout)
	rerankHTTP := httpclient.NewPooledClient(cfg.Rerank.Timeout)

	var clientOpts []bge.ClientOption
	if cfg.RateLimit.RPS > 0 {
		limiter := httpclient.NewHostRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		clientOpts = append(clientOpts, bge.WithRateLimiter(limiter))
		log.Info("backend_rate_limit_enabled",
			slog.Float64("rps", cfg.RateLimit.RPS),
			slog.Int("burst", cfg.RateLimit.Burst))
	}

	// Model backends
	var encoder domain.VectorEncoder = bge.NewBGEEmbedder(
		embedderConfig,
		log,
		append(clientOpts, bge.WithHTTPClient(embedHTTP))...,
	)
	if cfg.Embedding.CacheSize > 0 {
		encoder = bge.NewCachedEncoder(encoder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
		log.Info("embedding_cache_enabled",
			slog.Int("size", cfg.Embedding.CacheSize),
			slog.Duration("ttl", cfg.Embedding.CacheTTL))
	}
	reranker := bge.NewRerankerClient(
		cfg.Rerank.URL,
		cfg.Rerank.Model,
		cfg.Rerank.Timeout,
		log,
		append(clientOpts, bge.WithHTTPClient(rerankHTTP))...,
	)

	// Usecases
	retrieveUsecase := usecase.NewRetrieveDocumentsUsecase(chunkRepo, txManager, encoder, reranker, retrievalConfig, log)
	importUsecase := usecase.NewImportChunksUsecase(chunkRepo, txManager, domain.NewContentHashPolicy(), log)

	handler := rag_http.NewHandler(retrieveUsecase, pinger, retrievalConfig.DefaultThreshold, cfg.Retrieval.RetrieveTimeout, log)

	return &ApplicationComponents{
		SearchRepo:      chunkRepo,
		ImportRepo:      chunkRepo,
		TxManager:       txManager,
		Encoder:         encoder,
		Reranker:        reranker,
		RetrieveUsecase: retrieveUsecase,
		ImportUsecase:   importUsecase,
		Handler:         handler,
		RetrievalConfig: retrievalConfig,
	}, nil
}
