package domain

import "errors"

var (
	// ErrInvalidQuery is returned for an empty query or an out-of-range threshold.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInputTooLong is returned by an encoder configured to reject oversized input.
	ErrInputTooLong = errors.New("input exceeds encoder length cap")

	// ErrEmbeddingUnavailable means no query vector could be obtained. Retrieval cannot continue without one.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrLexicalBackend marks a full-text search failure. The lexical stage absorbs it.
	ErrLexicalBackend = errors.New("lexical backend error")

	// ErrRerankBackend marks a transport or status failure of the rerank service.
	ErrRerankBackend = errors.New("rerank backend error")

	// ErrRerankMalformedResponse marks a rerank response without a usable scores field.
	ErrRerankMalformedResponse = errors.New("rerank malformed response")

	// ErrStorage marks a failed vector search. It propagates to the caller.
	ErrStorage = errors.New("storage error")
)
