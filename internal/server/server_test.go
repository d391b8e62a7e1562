package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aircast-th/aircast/internal/config"
	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/series"
)

type stubSource struct {
	s   *series.Series
	err error
}

func (f *stubSource) FetchSeries(context.Context, string, string, time.Time, time.Time) (*series.Series, error) {
	return f.s, f.err
}

type stubProvider struct {
	bundle *imputation.Bundle
	err    error
}

func (p *stubProvider) GetOrLoad(context.Context, string) (*imputation.Bundle, error) {
	return p.bundle, p.err
}

func testConfig() config.Config {
	training := imputation.DefaultConfig()
	training.SequenceLength = 12
	return config.Config{
		Environment: "test",
		LogLevel:    "debug",
		Server: config.ServerConfig{
			Addr:            ":0",
			CORSOrigins:     []string{"http://localhost:5173"},
			ShutdownTimeout: time.Second,
		},
		Training: training,
	}
}

func flatSeries(n int, gapAt ...int) *series.Series {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]series.Observation, n)
	for i := range obs {
		obs[i] = series.Observation{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Value:     series.Float(20 + float64(i%5)),
		}
	}
	for _, g := range gapAt {
		obs[g].Value = nil
	}
	return &series.Series{StationID: "36t", Parameter: "PM25", Observations: obs}
}

func newTestServer(t *testing.T, src imputation.DataSource, provider imputation.ModelProvider) *Server {
	t.Helper()
	cfg := testConfig()
	logger := zaptest.NewLogger(t)

	artifacts, err := imputation.NewArtifactStore(t.TempDir(), logger.Sugar())
	require.NoError(t, err)

	orch := imputation.NewOrchestrator(src, provider, cfg.Training, logger.Sugar())
	return New(cfg, orch, artifacts, logger)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

const validBody = `{"stationID":"36t","param":"PM25","startDate":"2024-03-01","endDate":"2024-03-02"}`

func TestHealthAndRoot(t *testing.T) {
	s := newTestServer(t, &stubSource{s: flatSeries(48)}, &stubProvider{err: imputation.ErrModelNotTrained})

	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/", "").Code)
}

func TestCatalogueEndpoints(t *testing.T) {
	s := newTestServer(t, &stubSource{s: flatSeries(48)}, &stubProvider{err: imputation.ErrModelNotTrained})

	w := doJSON(t, s, http.MethodGet, "/api/stations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stations struct {
		Stations []struct {
			ID string `json:"id"`
		} `json:"stations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stations))
	assert.NotEmpty(t, stations.Stations)

	w = doJSON(t, s, http.MethodGet, "/api/parameters", "")
	require.Equal(t, http.StatusOK, w.Code)
	var params struct {
		Parameters []series.Parameter `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &params))
	assert.Len(t, params.Parameters, 6)
}

func TestModelsEndpointUntrained(t *testing.T) {
	s := newTestServer(t, &stubSource{s: flatSeries(48)}, &stubProvider{err: imputation.ErrModelNotTrained})

	w := doJSON(t, s, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Models []modelStatus `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Models, 6)
	for _, m := range body.Models {
		assert.False(t, m.Trained)
		assert.Nil(t, m.Meta)
	}
}

func TestAirQualityRawEndpoint(t *testing.T) {
	s := newTestServer(t, &stubSource{s: flatSeries(48, 3)}, &stubProvider{err: imputation.ErrModelNotTrained})

	w := doJSON(t, s, http.MethodPost, "/api/air-quality", validBody)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		StationID string `json:"station_id"`
		Rows      []struct {
			Value *float64 `json:"value"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "36t", body.StationID)
	require.Len(t, body.Rows, 48)
	assert.Nil(t, body.Rows[3].Value)
}

func TestFilledEndpointWithoutGaps(t *testing.T) {
	s := newTestServer(t, &stubSource{s: flatSeries(48)}, &stubProvider{err: imputation.ErrModelNotTrained})

	w := doJSON(t, s, http.MethodPost, "/api/air-quality/filled", validBody)
	require.Equal(t, http.StatusOK, w.Code)

	var body imputation.ImputedSeries
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Rows, 48)
	assert.Zero(t, body.GapCount)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, &stubSource{s: flatSeries(48)}, &stubProvider{err: imputation.ErrModelNotTrained})

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"not json", `garbage`},
		{"missing station", `{"param":"PM25","startDate":"2024-03-01","endDate":"2024-03-02"}`},
		{"unknown parameter", `{"stationID":"36t","param":"XYZ","startDate":"2024-03-01","endDate":"2024-03-02"}`},
		{"bad date", `{"stationID":"36t","param":"PM25","startDate":"yesterday","endDate":"2024-03-02"}`},
		{"inverted range", `{"stationID":"36t","param":"PM25","startDate":"2024-03-05","endDate":"2024-03-02"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/air-quality/filled", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		src        imputation.DataSource
		provider   imputation.ModelProvider
		wantStatus int
		wantCode   string
	}{
		{
			name:       "model not trained",
			src:        &stubSource{s: flatSeries(48, 20)},
			provider:   &stubProvider{err: imputation.ErrModelNotTrained},
			wantStatus: http.StatusConflict,
			wantCode:   "model_not_trained",
		},
		{
			name:       "upstream unavailable",
			src:        &stubSource{err: imputation.ErrDataUnavailable},
			provider:   &stubProvider{err: imputation.ErrModelNotTrained},
			wantStatus: http.StatusBadGateway,
			wantCode:   "data_unavailable",
		},
		{
			name:       "insufficient data",
			src:        &stubSource{s: flatSeries(5)},
			provider:   &stubProvider{err: imputation.ErrModelNotTrained},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "insufficient_data",
		},
		{
			name:       "corrupt artifact",
			src:        &stubSource{s: flatSeries(48, 20)},
			provider:   &stubProvider{err: imputation.ErrCorruptArtifact},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "corrupt_artifact",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.src, tc.provider)
			w := doJSON(t, s, http.MethodPost, "/api/air-quality/filled", validBody)
			require.Equal(t, tc.wantStatus, w.Code)

			var p problem
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
			assert.Equal(t, tc.wantCode, p.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubSource{s: flatSeries(48)}, &stubProvider{err: imputation.ErrModelNotTrained})

	// Generate some traffic first.
	doJSON(t, s, http.MethodGet, "/health", "")

	w := doJSON(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aircast_http_request_duration_seconds")
}
