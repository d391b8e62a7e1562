package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aircast-th/aircast/internal/imputation"
)

// problem is the JSON error body returned by every endpoint.
type problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps pipeline errors onto HTTP statuses. The mapping keeps
// client mistakes (bad parameter, not enough history) in the 4xx range and
// reserves 502 for upstream outages so callers can retry those.
func (s *Server) writeError(c *gin.Context, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, imputation.ErrModelNotTrained):
		status, code = http.StatusConflict, "model_not_trained"
	case errors.Is(err, imputation.ErrInsufficientData):
		status, code = http.StatusUnprocessableEntity, "insufficient_data"
	case errors.Is(err, imputation.ErrDataUnavailable):
		status, code = http.StatusBadGateway, "data_unavailable"
	case errors.Is(err, imputation.ErrCorruptArtifact):
		status, code = http.StatusInternalServerError, "corrupt_artifact"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		// Client went away; 499 is the conventional nginx code for this.
		status, code = 499, "client_closed_request"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	} else {
		s.logger.Warn("request rejected", zap.String("code", code), zap.Error(err))
	}

	c.AbortWithStatusJSON(status, problem{Code: code, Message: err.Error()})
}

func writeBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, problem{Code: "invalid_request", Message: err.Error()})
}
