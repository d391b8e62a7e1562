package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/series"
)

// Upstream is the remote history source the cache sits in front of.
type Upstream interface {
	FetchSeries(ctx context.Context, stationID, parameter string, start, end time.Time) (*series.Series, error)
}

// CachedSource serves series from the upstream API and keeps a local copy,
// so an upstream outage degrades to the last cached window instead of a
// hard failure.
type CachedSource struct {
	upstream Upstream
	store    *Store
	logger   *zap.SugaredLogger
}

func NewCachedSource(upstream Upstream, store *Store, logger *zap.SugaredLogger) *CachedSource {
	return &CachedSource{upstream: upstream, store: store, logger: logger}
}

// FetchSeries implements imputation.DataSource. A cache write failure is
// logged and swallowed: the fetched data is still good.
func (c *CachedSource) FetchSeries(ctx context.Context, stationID, parameter string, start, end time.Time) (*series.Series, error) {
	sr, err := c.upstream.FetchSeries(ctx, stationID, parameter, start, end)
	if err == nil {
		if saveErr := c.store.SaveSeries(ctx, sr); saveErr != nil {
			c.logger.Warnw("cache write failed",
				"station", stationID, "parameter", parameter, "error", saveErr)
		}
		return sr, nil
	}
	if ctx.Err() != nil || !errors.Is(err, imputation.ErrDataUnavailable) {
		return nil, err
	}

	cached, cacheErr := c.store.LoadSeries(ctx, stationID, parameter, start, end)
	if cacheErr != nil {
		// Report the upstream failure, not the cache miss.
		return nil, err
	}
	c.logger.Warnw("upstream unavailable, serving cached series",
		"station", stationID, "parameter", parameter, "rows", cached.Len())
	return cached, nil
}
