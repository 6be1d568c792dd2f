package rag_http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"rag-retriever/internal/domain"
	"rag-retriever/internal/usecase"
)

// Pinger reports storage reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RetrieveRequest is the body of POST /v1/rag/retrieve.
type RetrieveRequest struct {
	Query         string   `json:"query"`
	OriginalQuery string   `json:"original_query,omitempty"`
	Category      string   `json:"category,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	retrieveUsecase  usecase.RetrieveDocumentsUsecase
	pinger           Pinger
	defaultThreshold float64
	timeout          time.Duration
	logger           *slog.Logger
}

func NewHandler(
	retrieveUsecase usecase.RetrieveDocumentsUsecase,
	pinger Pinger,
	defaultThreshold float64,
	timeout time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		retrieveUsecase:  retrieveUsecase,
		pinger:           pinger,
		defaultThreshold: defaultThreshold,
		timeout:          timeout,
		logger:           logger,
	}
}

// RegisterRoutes mounts the retrieval and health endpoints.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/rag/retrieve", h.Retrieve)
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
}

// Retrieve runs hybrid retrieval with reranking
// (POST /v1/rag/retrieve)
func (h *Handler) Retrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
	}

	threshold := h.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	category := domain.ParseCategoryFilter(strings.TrimSpace(req.Category))

	ctx := c.Request().Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var (
		result *domain.RetrievalResult
		err    error
	)
	if strings.TrimSpace(req.OriginalQuery) != "" {
		result, err = h.retrieveUsecase.RetrieveWithFallbackQuery(ctx, req.Query, req.OriginalQuery, category, threshold)
	} else {
		result, err = h.retrieveUsecase.Execute(ctx, domain.QueryContext{Query: req.Query, Category: category, Threshold: threshold})
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("retrieve_request_failed", slog.Int("status", status), slog.String("error", err.Error()))
		}
		return c.JSON(status, errorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, result)
}

// Healthz reports liveness.
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether storage is reachable.
func (h *Handler) Readyz(c echo.Context) error {
	if h.pinger != nil {
		if err := h.pinger.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrInputTooLong):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
