package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aircast-th/aircast/internal/air4thai"
	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/series"
)

const dateLayout = "2006-01-02"

// airQualityRequest is the body shared by the raw and filled endpoints.
// Field names follow the upstream Air4Thai query vocabulary.
type airQualityRequest struct {
	StationID string `json:"stationID" binding:"required"`
	Parameter string `json:"param" binding:"required,parameter"`
	StartDate string `json:"startDate" binding:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" binding:"required,datetime=2006-01-02"`
}

// toRequest expands the date-only bounds to the full hourly range: the start
// day from 00:00 through the end day at 23:00 inclusive.
func (r airQualityRequest) toRequest() (imputation.Request, error) {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return imputation.Request{}, err
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return imputation.Request{}, err
	}
	end = end.Add(23 * time.Hour)
	if end.Before(start) {
		return imputation.Request{}, errors.New("endDate is before startDate")
	}
	return imputation.Request{
		StationID: r.StationID,
		Parameter: r.Parameter,
		Start:     start,
		End:       end,
	}, nil
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "aircast",
		"message": "Thai air quality API with LSTM gap filling",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stations": air4thai.Stations})
}

func (s *Server) handleParameters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"parameters": series.Parameters})
}

// modelStatus describes one parameter's artifact state for GET /api/models.
type modelStatus struct {
	Parameter string               `json:"parameter"`
	Trained   bool                 `json:"trained"`
	Meta      *imputation.Metadata `json:"meta,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func (s *Server) handleModels(c *gin.Context) {
	statuses := make([]modelStatus, 0, len(series.Parameters))
	for _, p := range series.Parameters {
		st := modelStatus{Parameter: p.Code}
		meta, err := s.artifacts.LoadMeta(p.Code)
		switch {
		case err == nil:
			st.Trained = true
			st.Meta = meta
		case errors.Is(err, imputation.ErrModelNotTrained):
			// untrained is the normal initial state, not an error
		default:
			st.Error = "corrupt_artifact"
		}
		statuses = append(statuses, st)
	}
	c.JSON(http.StatusOK, gin.H{"models": statuses})
}

// handleAirQuality proxies the upstream history without gap filling.
func (s *Server) handleAirQuality(c *gin.Context) {
	var body airQualityRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBadRequest(c, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeBadRequest(c, err)
		return
	}

	raw, err := s.orch.FetchRaw(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	type rawRow struct {
		Timestamp time.Time `json:"timestamp"`
		Value     *float64  `json:"value"`
	}
	rows := make([]rawRow, len(raw.Observations))
	for i, obs := range raw.Observations {
		rows[i] = rawRow{Timestamp: obs.Timestamp, Value: obs.Value}
	}
	c.JSON(http.StatusOK, gin.H{
		"station_id": raw.StationID,
		"parameter":  raw.Parameter,
		"rows":       rows,
	})
}

func (s *Server) handleAirQualityFilled(c *gin.Context) {
	var body airQualityRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBadRequest(c, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeBadRequest(c, err)
		return
	}

	filled, err := s.orch.Fill(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.metrics.observeFill(filled.Parameter, filled.FilledGaps, filled.FailedRows)
	c.JSON(http.StatusOK, filled)
}
