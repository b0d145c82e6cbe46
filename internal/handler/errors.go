package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quantlab/internal/domain"
	"quantlab/internal/job"
	"quantlab/internal/ml/registry"
)

var errUnknownFamily = errors.New("unknown model family")

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrModelNotFound), errors.Is(err, domain.ErrDataUnavailable):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFeatureMismatch), errors.Is(err, job.ErrTrainingInProgress):
		return http.StatusConflict
	case errors.Is(err, errUnknownFamily), errors.Is(err, domain.ErrInsufficientData):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
