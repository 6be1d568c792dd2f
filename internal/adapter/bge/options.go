// Package bge talks to the BGE-M3 model server: dense embeddings on /embed and
// cross-encoder scores on /rerank.
package bge

import (
	"net/http"
	"strings"
	"time"

	"rag-retriever/internal/infra/httpclient"
)

// ClientOption customizes a backend client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	limiter    *httpclient.HostRateLimiter
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithRateLimiter throttles calls per backend host.
func WithRateLimiter(l *httpclient.HostRateLimiter) ClientOption {
	return func(o *clientOptions) {
		o.limiter = l
	}
}

func applyOptions(timeout time.Duration, opts []ClientOption) clientOptions {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}
	return o
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
