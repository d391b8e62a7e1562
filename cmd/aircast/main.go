// Command aircast serves the Thai air-quality API with LSTM gap filling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aircast-th/aircast/internal/air4thai"
	"github.com/aircast-th/aircast/internal/config"
	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/server"
	"github.com/aircast-th/aircast/internal/storage"
	"github.com/aircast-th/aircast/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "aircast:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// .env is optional, used in local development only.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	sugar := log.Sugar()
	sugar.Infow("starting aircast",
		"environment", cfg.Environment, "addr", cfg.Server.Addr)

	store, err := storage.Open(cfg.Storage.SQLitePath, sugar)
	if err != nil {
		return err
	}
	defer store.Close()

	artifacts, err := imputation.NewArtifactStore(cfg.Models.Dir, sugar)
	if err != nil {
		return err
	}
	registry := imputation.NewRegistry(artifacts, sugar)

	client := air4thai.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, sugar)
	source := storage.NewCachedSource(client, store, sugar)
	orch := imputation.NewOrchestrator(source, registry, cfg.Training, sugar)

	srv := server.New(*cfg, orch, artifacts, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("stopped", zap.String("addr", cfg.Server.Addr))
	return nil
}
