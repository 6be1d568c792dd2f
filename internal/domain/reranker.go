package domain

import "context"

// RerankCandidate is one passage to be scored against the query.
type RerankCandidate struct {
	// ID is used to map scores back to candidates.
	ID string
	// Content is the text scored against the query.
	Content string
}

// RerankResult is the raw, unnormalized cross-encoder score for one candidate.
type RerankResult struct {
	ID    string
	Score float64
}

// Reranker defines the interface for cross-encoder scoring.
type Reranker interface {
	// Rerank scores every candidate against the query in one backend call.
	// Results are returned in candidate order, one per candidate.
	// Errors wrap ErrRerankBackend or ErrRerankMalformedResponse.
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)

	// ModelName returns the model identifier for logging/debugging.
	ModelName() string
}
