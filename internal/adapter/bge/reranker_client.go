package bge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/httpclient"
	"rag-retriever/internal/infra/logger"
)

// RerankRequest is the request payload for the rerank endpoint.
type RerankRequest struct {
	SentencePairs [][2]string `json:"sentence_pairs"`
	Normalized    bool        `json:"normalized"`
}

// RerankResponse is the response from the rerank endpoint. The server reports
// failures as {"error": "..."} with a 200 status.
type RerankResponse struct {
	Scores json.RawMessage `json:"scores,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// scores decodes the scores field. A single pair may come back as a bare number.
func (r RerankResponse) scores() ([]float64, error) {
	raw := bytes.TrimSpace(r.Scores)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("response has no scores field")
	}
	if raw[0] == '[' {
		var list []float64
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("invalid scores array: %w", err)
		}
		return list, nil
	}
	var single float64
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("invalid scores value: %w", err)
	}
	return []float64{single}, nil
}

// RerankerClient implements domain.Reranker against the model server's /rerank endpoint.
type RerankerClient struct {
	URL     string
	Model   string
	client  *http.Client
	limiter *httpclient.HostRateLimiter
	logger  *slog.Logger
}

// NewRerankerClient constructs a new RerankerClient.
// url is the full rerank endpoint (e.g. http://localhost:8001/rerank).
func NewRerankerClient(url, model string, timeout time.Duration, logger *slog.Logger, opts ...ClientOption) *RerankerClient {
	o := applyOptions(timeout, opts)
	return &RerankerClient{
		URL:     url,
		Model:   model,
		client:  o.httpClient,
		limiter: o.limiter,
		logger:  logger,
	}
}

// Rerank sends every (query, content) pair in one request and returns the raw
// scores in candidate order.
func (c *RerankerClient) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	if len(candidates) == 0 {
		return []domain.RerankResult{}, nil
	}

	log := logger.FromContext(ctx, c.logger)
	startTime := time.Now()

	log.Info("reranking_started",
		slog.String("query", truncateString(query, 100)),
		slog.Int("candidate_count", len(candidates)),
		slog.String("model", c.Model))

	pairs := make([][2]string, len(candidates))
	for i, cand := range candidates {
		pairs[i] = [2]string{query, cand.Content}
	}

	jsonPayload, err := json.Marshal(RerankRequest{SentencePairs: pairs, Normalized: false})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal rerank request: %w", domain.ErrRerankBackend, err)
	}

	if err := c.limiter.WaitForHost(ctx, c.URL); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrRerankBackend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create rerank request: %w", domain.ErrRerankBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn("reranking_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))
		return nil, fmt.Errorf("%w: failed to call rerank endpoint: %w", domain.ErrRerankBackend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn("reranking_failed",
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", truncateString(string(body), 500)),
			slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))
		return nil, fmt.Errorf("%w: rerank endpoint returned %d: %s", domain.ErrRerankBackend, resp.StatusCode, truncateString(string(body), 500))
	}

	var rerankResp RerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode rerank response: %w", domain.ErrRerankMalformedResponse, err)
	}

	scores, err := rerankResp.scores()
	if err != nil {
		log.Warn("reranking_malformed_response",
			slog.String("backend_error", truncateString(rerankResp.Error, 500)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", domain.ErrRerankMalformedResponse, err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: got %d scores for %d candidates", domain.ErrRerankMalformedResponse, len(scores), len(candidates))
	}

	results := make([]domain.RerankResult, len(candidates))
	for i, cand := range candidates {
		results[i] = domain.RerankResult{ID: cand.ID, Score: scores[i]}
	}

	log.Info("reranking_completed",
		slog.Int("result_count", len(results)),
		slog.String("model", c.Model),
		slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))

	return results, nil
}

// ModelName returns the model identifier for logging/debugging.
func (c *RerankerClient) ModelName() string {
	return c.Model
}

var _ domain.Reranker = (*RerankerClient)(nil)
