package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"rag-retriever/internal/di"
	"rag-retriever/internal/infra"
	"rag-retriever/internal/infra/config"
	"rag-retriever/internal/infra/logger"
	"rag-retriever/internal/infra/otel"
)

func main() {
	// 1. Load Config
	cfg := config.Load()

	// 2. Initialize OpenTelemetry before the logger so the OTel handler picks up the provider
	shutdownOTel, err := otel.InitProvider(context.Background(), otel.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.OTel.ServiceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to init otel", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, EnableOTel: cfg.OTel.Enabled})
	slog.SetDefault(log)

	// 4. Initialize DB
	dbPool, err := infra.NewPostgresDB(context.Background(), cfg.DSN(), infra.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		log.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// 5. Wire components
	app, err := di.NewApplicationComponents(cfg, dbPool, dbPool, log)
	if err != nil {
		log.Error("failed to wire components", "error", err)
		os.Exit(1)
	}

	// 6. Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())

	app.Handler.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// 7. Start Server (HTTP/2 without TLS via h2c)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           h2c.NewHandler(e, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Starting server",
			"addr", srv.Addr,
			"reranker", app.Reranker.ModelName(),
			"encoder", app.Encoder.Version())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	// 8. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	if err := shutdownOTel(ctx); err != nil {
		log.Error("otel shutdown failed", "error", err)
	}
}
