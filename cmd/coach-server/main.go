package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/park285/baduk-coach/internal/config"
	"github.com/park285/baduk-coach/internal/coachbuilder"
	"github.com/park285/baduk-coach/internal/httpapi"
	"github.com/park285/baduk-coach/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := coachbuilder.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("coach init error", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	// Warm the engine in the background; requests start it lazily anyway.
	if cfg.Warmup {
		go func() {
			wctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			if err := deps.Service.Start(wctx); err != nil {
				logger.Warn("engine warmup failed", zap.Error(err))
			}
		}()
	}

	srv := httpapi.New(deps.Service,
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithRequestTimeout(cfg.AnalyzeTimeout*5),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
	}
	logger.Info("coach server stopped")
}
