package usecase

import (
	"fmt"
	"time"

	"rag-retriever/internal/usecase/retrieval"
)

// RerankingConfig holds settings for cross-encoder reranking and selection.
type RerankingConfig struct {
	// TopK caps FinalRerank.
	TopK int
	// BackupK caps BackupRerank.
	BackupK int
	// DegradedTopK and DegradedBackupK cap the lists served in merge order when reranking fails.
	DegradedTopK    int
	DegradedBackupK int
	// Timeout is the maximum duration for reranking requests.
	Timeout time.Duration
}

// DefaultRerankingConfig returns the production defaults.
func DefaultRerankingConfig() RerankingConfig {
	return RerankingConfig{
		TopK:            5,
		BackupK:         4,
		DegradedTopK:    5,
		DegradedBackupK: 3,
		Timeout:         30 * time.Second,
	}
}

// Validate checks if the reranking configuration is valid.
func (c RerankingConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("reranking topK must be positive, got %d", c.TopK)
	}
	if c.BackupK < 0 {
		return fmt.Errorf("reranking backupK must be non-negative, got %d", c.BackupK)
	}
	if c.DegradedTopK < 0 || c.DegradedBackupK < 0 {
		return fmt.Errorf("degraded sizes must be non-negative, got %d/%d", c.DegradedTopK, c.DegradedBackupK)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("reranking timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// HybridSearchConfig holds settings for the lexical and semantic first stages.
type HybridSearchConfig struct {
	// LexicalLimit is the row cap of each BM25 pass.
	LexicalLimit int
	// SemanticLimit is the row cap of the vector pass.
	SemanticLimit int
	// FallbackTokens is how many cleaned query tokens the conjunctive fallback keeps.
	FallbackTokens int
}

// DefaultHybridSearchConfig returns the production defaults.
func DefaultHybridSearchConfig() HybridSearchConfig {
	return HybridSearchConfig{
		LexicalLimit:   25,
		SemanticLimit:  25,
		FallbackTokens: 10,
	}
}

// Validate checks if the hybrid search configuration is valid.
func (c HybridSearchConfig) Validate() error {
	if c.LexicalLimit <= 0 {
		return fmt.Errorf("lexical limit must be positive, got %d", c.LexicalLimit)
	}
	if c.SemanticLimit <= 0 {
		return fmt.Errorf("semantic limit must be positive, got %d", c.SemanticLimit)
	}
	if c.FallbackTokens <= 0 {
		return fmt.Errorf("fallback tokens must be positive, got %d", c.FallbackTokens)
	}
	return nil
}

// RetrievalConfig holds tunable parameters for hybrid retrieval.
type RetrievalConfig struct {
	// DefaultThreshold applies when a caller does not send one.
	DefaultThreshold float64

	// Reranking holds cross-encoder reranking settings.
	Reranking RerankingConfig

	// HybridSearch holds lexical and vector search settings.
	HybridSearch HybridSearchConfig
}

// DefaultRetrievalConfig returns the production defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		DefaultThreshold: 0.2,
		Reranking:        DefaultRerankingConfig(),
		HybridSearch:     DefaultHybridSearchConfig(),
	}
}

// Validate checks if the configuration values are within acceptable ranges.
func (c RetrievalConfig) Validate() error {
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("default threshold must be in [0, 1], got %v", c.DefaultThreshold)
	}
	if err := c.Reranking.Validate(); err != nil {
		return fmt.Errorf("reranking config invalid: %w", err)
	}
	if err := c.HybridSearch.Validate(); err != nil {
		return fmt.Errorf("hybrid search config invalid: %w", err)
	}
	return nil
}

func (c RetrievalConfig) lexical() retrieval.LexicalConfig {
	return retrieval.LexicalConfig{Limit: c.HybridSearch.LexicalLimit, FallbackTokens: c.HybridSearch.FallbackTokens}
}

func (c RetrievalConfig) semantic() retrieval.SemanticConfig {
	return retrieval.SemanticConfig{Limit: c.HybridSearch.SemanticLimit}
}

func (c RetrievalConfig) rerank() retrieval.RerankConfig {
	return retrieval.RerankConfig{
		TopK:            c.Reranking.TopK,
		BackupK:         c.Reranking.BackupK,
		DegradedTopK:    c.Reranking.DegradedTopK,
		DegradedBackupK: c.Reranking.DegradedBackupK,
		Timeout:         c.Reranking.Timeout,
	}
}
