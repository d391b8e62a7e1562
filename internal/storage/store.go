// Package storage persists fetched measurement history and training-run
// records in SQLite. The measurement table is a local training cache so the
// training CLI does not re-fetch months of upstream history on every run;
// training-run rows keep the metric history queryable without opening model
// artifacts.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/series"
)

// Measurement is one cached hourly reading. Nil Value records an upstream
// gap explicitly so a cached series keeps its hourly grid.
type Measurement struct {
	ID        uint      `gorm:"primaryKey"`
	StationID string    `gorm:"index:idx_station_param_ts,unique"`
	Parameter string    `gorm:"index:idx_station_param_ts,unique"`
	Timestamp time.Time `gorm:"index:idx_station_param_ts,unique"`
	Value     *float64
}

// TrainingRun is the stored record of one completed training.
type TrainingRun struct {
	ID              string `gorm:"primaryKey"`
	Parameter       string `gorm:"index"`
	MAE             float64
	RMSE            float64
	R2              float64
	AccuracyWithin5 float64
	TrainWindows    int
	ValWindows      int
	SequenceLength  int
	EpochsRun       int
	TrainedAt       time.Time
}

// Store wraps the SQLite handle.
type Store struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema.
func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Measurement{}, &TrainingRun{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying SQLite handle.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	return db.Close()
}

// SaveSeries upserts every row of a series into the measurement cache.
func (s *Store) SaveSeries(ctx context.Context, sr *series.Series) error {
	rows := make([]Measurement, 0, sr.Len())
	for _, obs := range sr.Observations {
		rows = append(rows, Measurement{
			StationID: sr.StationID,
			Parameter: sr.Parameter,
			Timestamp: obs.Timestamp.UTC(),
			Value:     obs.Value,
		})
	}
	// Replace the covered range wholesale; partial upserts would interleave
	// stale gap rows with fresh readings.
	first := rows[0].Timestamp
	last := rows[len(rows)-1].Timestamp
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(
			"station_id = ? AND parameter = ? AND timestamp BETWEEN ? AND ?",
			sr.StationID, sr.Parameter, first, last,
		).Delete(&Measurement{}).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return fmt.Errorf("storage: save series %s/%s: %w", sr.StationID, sr.Parameter, err)
	}
	s.logger.Debugw("series cached", "station", sr.StationID, "parameter", sr.Parameter, "rows", len(rows))
	return nil
}

// LoadSeries reads a cached series for the given range, reindexed to the
// hourly grid. Returns ErrDataUnavailable when the cache holds nothing for
// the key.
func (s *Store) LoadSeries(ctx context.Context, stationID, parameter string, start, end time.Time) (*series.Series, error) {
	var rows []Measurement
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND parameter = ? AND timestamp BETWEEN ? AND ?",
			stationID, parameter, start.UTC(), end.UTC()).
		Order("timestamp asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: load series %s/%s: %w", stationID, parameter, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("storage: no cached rows for %s/%s: %w", stationID, parameter, imputation.ErrDataUnavailable)
	}
	obs := make([]series.Observation, 0, len(rows))
	for _, r := range rows {
		obs = append(obs, series.Observation{Timestamp: r.Timestamp, Value: r.Value})
	}
	return series.Reindex(stationID, parameter, obs)
}

// RecordTrainingRun stores the outcome of one training.
func (s *Store) RecordTrainingRun(ctx context.Context, meta imputation.Metadata) error {
	run := TrainingRun{
		ID:              meta.ID,
		Parameter:       meta.Parameter,
		MAE:             meta.Metrics.MAE,
		RMSE:            meta.Metrics.RMSE,
		R2:              meta.Metrics.R2,
		AccuracyWithin5: meta.Metrics.AccuracyWithin5,
		TrainWindows:    meta.TrainWindows,
		ValWindows:      meta.ValWindows,
		SequenceLength:  meta.SequenceLength,
		EpochsRun:       meta.EpochsRun,
		TrainedAt:       meta.TrainedAt,
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("storage: record training run %s: %w", meta.ID, err)
	}
	return nil
}

// LatestRun returns the most recent training record for a parameter, or nil
// when none exists.
func (s *Store) LatestRun(ctx context.Context, parameter string) (*TrainingRun, error) {
	var run TrainingRun
	err := s.db.WithContext(ctx).
		Where("parameter = ?", parameter).
		Order("trained_at desc").
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, fmt.Errorf("storage: latest run %s: %w", parameter, err)
	}
	if run.ID == "" {
		return nil, nil
	}
	return &run, nil
}
