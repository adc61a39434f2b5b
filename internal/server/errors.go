package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MeKo-Tech/imagex/internal/archive"
	"github.com/MeKo-Tech/imagex/internal/pipeline"
	"github.com/MeKo-Tech/imagex/internal/types"
)

var (
	errArchiveDisabled = errors.New("export archive is not configured")
	errImageTooLarge   = errors.New("image resolution exceeds the server limit")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, errImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrDecodeFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errSessionNotFound),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, errArchiveDisabled):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotReady),
		errors.Is(err, pipeline.ErrNoImage),
		errors.Is(err, pipeline.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, errTooManySessions):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log().Error("request failed", "path", c.FullPath(), "error", err)
	} else {
		s.log().Debug("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
