package domain

import (
	"fmt"
	"strings"
)

// DocumentCandidate is a retrieved chunk as it flows through the retrieval pipeline.
// Search stages create it, the merge step may enrich References, and the rerank
// stage assigns CrossScore. No stage clears a field set by an earlier one.
type DocumentCandidate struct {
	// ID is the chunk identity and the dedup key end to end.
	ID      string `json:"id"`
	Content string `json:"content"`

	// Auxiliary payload references, carried through unmodified.
	Tables string `json:"tables,omitempty"`
	Images string `json:"images,omitempty"`
	Videos string `json:"videos,omitempty"`

	References string `json:"references,omitempty"`
	Category   string `json:"category,omitempty"`
	URL        string `json:"url,omitempty"`

	// Score is reserved for a first-stage relevance score. Nothing populates it.
	Score *float64 `json:"score,omitempty"`
	// CrossScore is the squashed cross-encoder score in (0,1).
	// It is nil until reranking succeeds.
	CrossScore *float64 `json:"cross_score,omitempty"`
}

// WithCrossScore returns a copy of the candidate carrying the given cross-encoder score.
func (c DocumentCandidate) WithCrossScore(score float64) DocumentCandidate {
	c.CrossScore = &score
	return c
}

// QueryContext is the input of a single retrieval call.
type QueryContext struct {
	Query     string
	Category  CategoryFilter
	Threshold float64
}

// Validate checks the query text and threshold range.
func (q QueryContext) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in [0, 1], got %v", ErrInvalidQuery, q.Threshold)
	}
	return nil
}

// RetrievalResult is what one retrieval call hands back to its caller.
type RetrievalResult struct {
	RetrievalID string `json:"retrieval_id"`
	// FinalRerank holds threshold-qualified candidates, best first.
	FinalRerank []DocumentCandidate `json:"final_rerank"`
	// BackupRerank holds the best candidates regardless of threshold.
	BackupRerank []DocumentCandidate `json:"backup_rerank"`
}
