package retrieval

import "rag-retriever/internal/domain"

// MergeCandidates concatenates lexical then semantic hits, dropping repeated IDs (Stage 3).
// A chunk found by both stages keeps its lexical copy.
func MergeCandidates(lexical, semantic []domain.DocumentCandidate) []domain.DocumentCandidate {
	merged := make([]domain.DocumentCandidate, 0, len(lexical)+len(semantic))
	seen := make(map[string]struct{}, len(lexical)+len(semantic))

	for _, list := range [][]domain.DocumentCandidate{lexical, semantic} {
		for _, c := range list {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			merged = append(merged, c)
		}
	}
	return merged
}

// DedupByID keeps the first occurrence of every ID, preserving order.
func DedupByID(candidates []domain.DocumentCandidate) []domain.DocumentCandidate {
	return MergeCandidates(candidates, nil)
}
