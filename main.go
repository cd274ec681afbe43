package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/capability"
	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/logging"
	"github.com/chaos-io/cutout/model"
	"github.com/chaos-io/cutout/samples"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/server"
	"github.com/chaos-io/cutout/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CUTOUT_CONFIG"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	caps := capability.Detect(cfg.Constrained)
	logger.Info("detected capabilities", zap.Bool("constrained", caps.ConstrainedDevice))

	client := segment.NewHTTPRemover(cfg.Segment.BaseURL, cfg.Segment.Timeout.Std(), logger)
	manager := model.NewManager(client, caps, logger)
	orchestrator := segment.NewOrchestrator(manager, client, cfg.Segment.MaxSize, logger)
	engine := composite.NewEngine(logger)
	st := store.New(logger)
	fetcher := samples.NewFetcher(cfg.SampleURLs, logger)

	exporter, err := server.NewExporter(cfg.Export.Dir, cfg.Export.TTL.Std(), logger)
	if err != nil {
		logger.Fatal("failed to set up export directory", zap.Error(err))
	}

	// The default model loads eagerly so the first upload does not pay the
	// initialization cost. A failure here is not fatal: the manager can be
	// re-initialized through the API.
	initCtx, cancel := context.WithTimeout(context.Background(), cfg.Segment.Timeout.Std())
	if res, err := manager.Initialize(initCtx, ""); err != nil {
		logger.Warn("initial model load failed", zap.Error(err))
	} else if res.FellBack {
		logger.Warn("started on fallback model", zap.String("model", res.ModelID))
	}
	cancel()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Export.Schedule, exporter.Sweep); err != nil {
		logger.Fatal("invalid sweep schedule", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	r := gin.Default()
	srv := server.New(st, manager, orchestrator, engine, fetcher, exporter, logger)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("cutout listening", zap.String("addr", cfg.Addr))
	if err := serve(httpServer, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func serve(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
