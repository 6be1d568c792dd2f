package bge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/infra/httpclient"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/metrics"
	"rag-retriever/internal/infra/retry"
)

// OverflowPolicy decides what happens to input longer than the configured cap.
type OverflowPolicy string

const (
	OverflowTruncate OverflowPolicy = "truncate"
	OverflowReject   OverflowPolicy = "reject"
)

// ParseOverflowPolicy maps a config string to a policy, defaulting to truncate.
func ParseOverflowPolicy(s string) OverflowPolicy {
	if OverflowPolicy(strings.ToLower(strings.TrimSpace(s))) == OverflowReject {
		return OverflowReject
	}
	return OverflowTruncate
}

// EmbedderConfig configures BGEEmbedder.
type EmbedderConfig struct {
	// URL is the full /embed endpoint.
	URL       string
	Model     string
	BatchSize int
	// MaxLength is the backend token budget sent with every request.
	MaxLength int
	// Dimension is the expected vector length. Zero disables the check.
	Dimension int
	// MaxInputChars caps input length in runes before it is sent.
	MaxInputChars int
	Overflow      OverflowPolicy
	Retry         retry.Policy
	Timeout       time.Duration
}

// DefaultEmbedderConfig returns the production defaults for the given endpoint.
func DefaultEmbedderConfig(url string) EmbedderConfig {
	return EmbedderConfig{
		URL:           url,
		Model:         "bge-m3",
		BatchSize:     1,
		MaxLength:     4096,
		Dimension:     1024,
		MaxInputChars: 16384,
		Overflow:      OverflowTruncate,
		Retry:         retry.FixedPolicy(10, 2*time.Second),
		Timeout:       30 * time.Second,
	}
}

// BGEEmbedder implements domain.VectorEncoder over the model server's /embed endpoint.
// Each text is sent as its own single-sentence request.
type BGEEmbedder struct {
	cfg     EmbedderConfig
	client  *http.Client
	limiter *httpclient.HostRateLimiter
	logger  *slog.Logger
}

// NewBGEEmbedder constructs a BGEEmbedder.
func NewBGEEmbedder(cfg EmbedderConfig, logger *slog.Logger, opts ...ClientOption) *BGEEmbedder {
	o := applyOptions(cfg.Timeout, opts)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &BGEEmbedder{
		cfg:     cfg,
		client:  o.httpClient,
		limiter: o.limiter,
		logger:  logger,
	}
}

type embedParams struct {
	BatchSize int `json:"batch_size"`
	MaxLength int `json:"max_length"`
}

type embeddingTypes struct {
	Dense   bool `json:"dense"`
	Sparse  bool `json:"sparse"`
	Colbert bool `json:"colbert"`
}

type embedRequest struct {
	Sentences      []string       `json:"sentences"`
	Params         embedParams    `json:"params"`
	EmbeddingTypes embeddingTypes `json:"embedding_types"`
}

type embedResponse struct {
	Embeddings *struct {
		DenseVecs [][]float32 `json:"dense_vecs"`
	} `json:"embeddings"`
}

// Encode returns one dense vector per text. Failures after the retry budget wrap
// domain.ErrEmbeddingUnavailable.
func (e *BGEEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// Version returns the model identifier.
func (e *BGEEmbedder) Version() string {
	return e.cfg.Model
}

func (e *BGEEmbedder) prepare(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: embedding input is empty", domain.ErrInvalidQuery)
	}
	if e.cfg.MaxInputChars <= 0 || utf8.RuneCountInString(text) <= e.cfg.MaxInputChars {
		return text, nil
	}
	if e.cfg.Overflow == OverflowReject {
		return "", fmt.Errorf("%w: %d runes, cap %d", domain.ErrInputTooLong, utf8.RuneCountInString(text), e.cfg.MaxInputChars)
	}
	runes := []rune(text)
	return string(runes[:e.cfg.MaxInputChars]), nil
}

func (e *BGEEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	log := logger.FromContext(ctx, e.logger)

	prepared, err := e.prepare(text)
	if err != nil {
		return nil, err
	}
	if len(prepared) != len(text) {
		log.Warn("embed_input_truncated",
			slog.Int("original_runes", utf8.RuneCountInString(text)),
			slog.Int("max_runes", e.cfg.MaxInputChars))
	}

	payload, err := json.Marshal(embedRequest{
		Sentences: []string{prepared},
		Params: embedParams{
			BatchSize: e.cfg.BatchSize,
			MaxLength: e.cfg.MaxLength,
		},
		EmbeddingTypes: embeddingTypes{Dense: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	start := time.Now()
	var vector []float32
	err = retry.Do(ctx, e.cfg.Retry, log, "embed", func(ctx context.Context, attempt int) error {
		v, callErr := e.call(ctx, payload)
		if callErr != nil {
			metrics.EmbeddingAttemptsTotal.WithLabelValues("error").Inc()
			return callErr
		}
		metrics.EmbeddingAttemptsTotal.WithLabelValues("success").Inc()
		vector = v
		return nil
	})
	if err != nil {
		log.Error("embedding_unavailable",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}

	log.Debug("embed_completed",
		slog.Int("dimension", len(vector)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return vector, nil
}

func (e *BGEEmbedder) call(ctx context.Context, payload []byte) ([]float32, error) {
	if err := e.limiter.WaitForHost(ctx, e.cfg.URL); err != nil {
		return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create embed request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embed endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embed endpoint returned %d: %s", resp.StatusCode, truncateString(string(body), 500))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if out.Embeddings == nil || len(out.Embeddings.DenseVecs) == 0 {
		return nil, fmt.Errorf("embed response has no dense_vecs")
	}

	vec := out.Embeddings.DenseVecs[0]
	if e.cfg.Dimension > 0 && len(vec) != e.cfg.Dimension {
		return nil, retry.Permanent(fmt.Errorf("embed response dimension %d, expected %d", len(vec), e.cfg.Dimension))
	}
	return vec, nil
}

var _ domain.VectorEncoder = (*BGEEmbedder)(nil)
