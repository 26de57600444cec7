package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Brownie44l1/tagging-api/internal/config"
	"github.com/Brownie44l1/tagging-api/internal/fetch"
	"github.com/Brownie44l1/tagging-api/internal/handlers"
	"github.com/Brownie44l1/tagging-api/internal/logger"
	"github.com/Brownie44l1/tagging-api/internal/metrics"
	"github.com/Brownie44l1/tagging-api/internal/model"
	"github.com/Brownie44l1/tagging-api/internal/onnx"
	"github.com/Brownie44l1/tagging-api/internal/remote"
	"github.com/Brownie44l1/tagging-api/internal/router"
	"github.com/Brownie44l1/tagging-api/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.Server.Mode)

	// The backend is fully initialized before the listener opens.
	backend, modelName, closeBackend, err := newBackend(cfg, log)
	if err != nil {
		log.Error("Failed to initialize backend", zap.String("kind", cfg.Backend.Kind), zap.Error(err))
		return fmt.Errorf("failed to initialize backend: %w", err)
	}
	defer closeBackend()

	if cfg.Fetch.InsecureSkipVerify {
		log.Warn("TLS certificate verification is disabled for image downloads")
	}

	fetcher := fetch.NewFetcher(cfg.Fetch)
	recognizer := service.NewRecognizer(fetcher, backend, metrics.New(prometheus.DefaultRegisterer), log)
	h := handlers.NewHandler(recognizer, backend.Name(), modelName, log)
	r := router.Setup(h, promhttp.Handler(), log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server",
			zap.String("address", addr),
			zap.String("backend", backend.Name()),
			zap.String("model", modelName),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		log.Error("Server failed", zap.Error(err))
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

func newBackend(cfg *config.Config, log *zap.Logger) (model.Backend, string, func(), error) {
	switch cfg.Backend.Kind {
	case config.BackendRemote:
		client := remote.NewClient(cfg.Remote)
		if cfg.Remote.Token == "" {
			log.Warn("No default inference token configured; requests must supply one")
		}
		return client, client.ModelID(), func() {}, nil

	case config.BackendLocal:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		vocab, err := onnx.LoadVocabulary(ctx, cfg.Local.LabelsPath, cfg.Local.LabelsURL, cfg.Local.NumClasses, log)
		if err != nil {
			return nil, "", nil, err
		}

		log.Info("Loading model", zap.String("path", cfg.Local.ModelPath))
		server, err := onnx.NewServer(onnx.SessionConfig{
			ModelPath:   cfg.Local.ModelPath,
			LibraryPath: cfg.Local.LibraryPath,
			InputName:   cfg.Local.InputName,
			OutputName:  cfg.Local.OutputName,
			InputShape:  onnx.InputShape,
			OutputShape: []int64{1, int64(cfg.Local.NumClasses)},
		})
		if err != nil {
			return nil, "", nil, err
		}
		log.Info("Model loaded", zap.Int("classes", vocab.Len()))

		return onnx.NewClassifier(server, vocab, cfg.Local.MaxPixels), cfg.Local.ModelPath, server.Close, nil

	default:
		return nil, "", nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}
