package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trial-matcher-server/internal/domain"
	"github.com/trial-matcher-server/internal/middleware"
)

// StatusForCode maps an error code to its HTTP status. Upstream dependency
// failures are 502 so callers can tell them from faults in this service.
func StatusForCode(code string) int {
	switch code {
	case domain.ErrValidation, domain.ErrInvalidInput:
		return http.StatusBadRequest
	case domain.ErrEmbedding, domain.ErrRetrieval, domain.ErrExternalAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse classifies err and builds the body returned to the caller.
func (s *Server) errorResponse(c *gin.Context, err error) (int, *domain.MatchError) {
	code := domain.ErrorCode(err)

	var resp domain.MatchError
	var merr *domain.MatchError
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		resp = *domain.NewMatchError(code, verr.Error(), nil)
	case errors.As(err, &merr):
		resp = *merr
		resp.Code = code
	default:
		resp = *domain.NewMatchError(code, "internal error", err)
	}
	resp.RequestID = middleware.GetRequestID(c)

	status := StatusForCode(code)
	entry := s.logger.WithError(err).WithField("request_id", resp.RequestID).WithField("code", code)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	return status, &resp
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, resp := s.errorResponse(c, err)
	c.JSON(status, gin.H{"error": resp})
}
