// Package air4thai wraps the public Air4Thai history endpoint. It is the
// only place that knows the upstream wire format; everything downstream
// works on series.Series.
package air4thai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/series"
)

// DefaultBaseURL is the public history endpoint.
const DefaultBaseURL = "http://air4thai.com/forweb/getHistoryData.php"

// Client fetches hourly station history. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// NewClient builds a client with the given endpoint and timeout. An empty
// baseURL selects DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// historyResponse mirrors the upstream payload shape. Measurement values
// arrive untyped: numbers, numeric strings, "-" or null all occur.
type historyResponse struct {
	Stations []struct {
		StationID string                       `json:"stationID"`
		Data      []map[string]json.RawMessage `json:"data"`
	} `json:"stations"`
}

const timestampKey = "DATETIMEDATA"

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// FetchSeries retrieves one (station, parameter) history and reindexes it to
// a complete hourly grid. An empty or malformed payload is reported as
// imputation.ErrDataUnavailable; transport failures are wrapped the same way
// so the caller sees a single upstream-failure kind.
func (c *Client) FetchSeries(ctx context.Context, stationID, parameter string, start, end time.Time) (*series.Series, error) {
	q := url.Values{}
	q.Set("stationID", stationID)
	q.Set("param", parameter)
	q.Set("type", "hr")
	q.Set("sdate", start.Format("2006-01-02"))
	q.Set("edate", end.Format("2006-01-02"))
	q.Set("stime", "00")
	q.Set("etime", "23")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("air4thai: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("air4thai: request history: %v: %w", err, imputation.ErrDataUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("air4thai: unexpected status %s: %w", resp.Status, imputation.ErrDataUnavailable)
	}

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("air4thai: decode payload: %v: %w", err, imputation.ErrDataUnavailable)
	}
	if len(payload.Stations) == 0 || len(payload.Stations[0].Data) == 0 {
		return nil, fmt.Errorf("air4thai: empty history for station %s: %w", stationID, imputation.ErrDataUnavailable)
	}

	obs := make([]series.Observation, 0, len(payload.Stations[0].Data))
	for _, rec := range payload.Stations[0].Data {
		ts, ok := parseTimestamp(rec[timestampKey])
		if !ok {
			continue
		}
		obs = append(obs, series.Observation{
			Timestamp: ts,
			Value:     parseValue(rec[parameter]),
		})
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("air4thai: no parsable rows for station %s: %w", stationID, imputation.ErrDataUnavailable)
	}

	s, err := series.Reindex(stationID, strings.ToUpper(parameter), obs)
	if err != nil {
		return nil, fmt.Errorf("air4thai: %v: %w", err, imputation.ErrDataUnavailable)
	}

	c.logger.Debugw("fetched upstream history",
		"station", stationID,
		"parameter", parameter,
		"rows", s.Len(),
		"observed", s.ObservedCount(),
	)
	return s, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, str); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// parseValue accepts the upstream's mixed value encodings. Anything that is
// not a finite number becomes a gap.
func parseValue(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return &num
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil
	}
	str = strings.TrimSpace(str)
	if str == "" || str == "-" {
		return nil
	}
	num, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return nil
	}
	return &num
}
