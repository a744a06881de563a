package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"annolab/internal/claims"
	"annolab/internal/config"
	"annolab/internal/daemon"
	"annolab/internal/insight"
	"annolab/internal/logging"
	"annolab/internal/pipeline"
	"annolab/internal/server"
	"annolab/internal/store"
	"annolab/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to the annolab config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, exists, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if !exists {
		logger.Warn("config file not found, using defaults", logging.String("path", resolvedPath))
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	evaluator := insight.NewEvaluator(st, logger)
	engine := workflow.NewEngine(st, logger)
	srv, err := server.New(cfg, server.Services{
		Store:    st,
		Pipeline: pipeline.NewService(st, evaluator, logger),
		Claims:   claims.NewService(st, logger),
		Workflow: engine,
		Insight:  evaluator,
	}, logger)
	if err != nil {
		logger.Error("create api server", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, st, logger, srv, engine)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("annolabd shutting down")
}
