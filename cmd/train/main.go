// Command train fetches historical readings and trains one gap-filling model
// per requested parameter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aircast-th/aircast/internal/air4thai"
	"github.com/aircast-th/aircast/internal/config"
	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/series"
	"github.com/aircast-th/aircast/internal/storage"
	"github.com/aircast-th/aircast/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	stationID := flag.String("station", "36t", "station to train on")
	params := flag.String("params", "PM25", "comma-separated parameter codes, or 'all'")
	days := flag.Int("days", 0, "days of history to fetch (0 = configured default)")
	flag.Parse()

	if err := run(*configPath, *stationID, *params, *days); err != nil {
		fmt.Fprintln(os.Stderr, "train:", err)
		os.Exit(1)
	}
}

func run(configPath, stationID, params string, days int) error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if days <= 0 {
		days = cfg.Training.DaysOfHistory
	}

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	codes, err := resolveParameters(params)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.SQLitePath, sugar)
	if err != nil {
		return err
	}
	defer store.Close()

	artifacts, err := imputation.NewArtifactStore(cfg.Models.Dir, sugar)
	if err != nil {
		return err
	}

	client := air4thai.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, sugar)
	source := storage.NewCachedSource(client, store, sugar)
	trainer := imputation.NewTrainer(cfg.Training, artifacts, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	end := time.Now().Truncate(time.Hour)
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	var failed []string
	for _, code := range codes {
		sugar.Infow("training", "station", stationID, "parameter", code,
			"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))

		sr, err := source.FetchSeries(ctx, stationID, code, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sugar.Errorw("fetch failed", "parameter", code, "error", err)
			failed = append(failed, code)
			continue
		}

		result, err := trainer.Train(ctx, sr)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			sugar.Errorw("training failed", "parameter", code, "error", err)
			failed = append(failed, code)
			continue
		}

		if err := store.RecordTrainingRun(ctx, result.Meta); err != nil {
			sugar.Warnw("record training run failed", "parameter", code, "error", err)
		}

		m := result.Meta.Metrics
		fmt.Printf("%-5s  MAE %.3f  RMSE %.3f  R2 %.3f  within5%% %.1f%%  (%d epochs, %d/%d windows)\n",
			code, m.MAE, m.RMSE, m.R2, m.AccuracyWithin5*100,
			result.Meta.EpochsRun, result.Meta.TrainWindows, result.Meta.ValWindows)
	}

	if len(failed) > 0 {
		return fmt.Errorf("training failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}

func resolveParameters(spec string) ([]string, error) {
	if strings.EqualFold(spec, "all") {
		codes := make([]string, len(series.Parameters))
		for i, p := range series.Parameters {
			codes[i] = p.Code
		}
		return codes, nil
	}

	var codes []string
	for _, raw := range strings.Split(spec, ",") {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if !series.ValidParameter(code) {
			return nil, fmt.Errorf("unknown parameter %q", raw)
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("no parameters requested")
	}
	return codes, nil
}
