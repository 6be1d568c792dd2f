package retrieval

import "rag-retriever/internal/domain"

// StageContext carries data between pipeline stages of one retrieval call.
// It is never shared across calls.
type StageContext struct {
	// Input
	RetrievalID string
	Query       string
	Category    domain.CategoryFilter
	Threshold   float64

	// Stage 1 outputs
	QueryEmbedding []float32
	LexicalHits    []domain.DocumentCandidate
	LexicalCleaned string
	UsedFallback   bool

	// Stage 2 outputs
	SemanticHits []domain.DocumentCandidate

	// Stage 3 outputs
	Merged []domain.DocumentCandidate

	// Stage 4 outputs
	Final    []domain.DocumentCandidate
	Backup   []domain.DocumentCandidate
	Degraded bool
}

// NewStageContext builds the per-call context from a validated query.
func NewStageContext(retrievalID string, q domain.QueryContext) *StageContext {
	return &StageContext{
		RetrievalID: retrievalID,
		Query:       q.Query,
		Category:    q.Category,
		Threshold:   q.Threshold,
	}
}
