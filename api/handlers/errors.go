package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// kindConflict is reported for requests that clash with a job's state
const kindConflict domain.ErrorKind = "Conflict"

var kindStatus = map[domain.ErrorKind]int{
	domain.KindInvalidURL:           http.StatusBadRequest,
	domain.KindConfigError:          http.StatusBadRequest,
	domain.KindUnsupportedPlatform:  http.StatusUnprocessableEntity,
	domain.KindUnsupportedCipher:    http.StatusUnprocessableEntity,
	domain.KindAuthRequired:         http.StatusUnauthorized,
	domain.KindNotFound:             http.StatusNotFound,
	domain.KindRateLimited:          http.StatusTooManyRequests,
	domain.KindCancelled:            http.StatusConflict,
	domain.KindMalformedManifest:    http.StatusBadGateway,
	domain.KindPlatformUnreachable:  http.StatusBadGateway,
	domain.KindSegmentFetchFailed:   http.StatusBadGateway,
	domain.KindSegmentDecryptFailed: http.StatusBadGateway,
	domain.KindJobBelowThreshold:    http.StatusBadGateway,
}

// StatusForKind maps an error kind to an HTTP status code
func StatusForKind(kind domain.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as an ErrorBody. Only the public message of a
// domain error is exposed.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, app.ErrJobFinished) || errors.Is(err, app.ErrJobActive) {
		c.JSON(http.StatusConflict, gin.H{"error": ErrorBody{Kind: kindConflict, Message: err.Error()}})
		return
	}

	de := domain.AsError(err)
	c.JSON(StatusForKind(de.Kind), gin.H{"error": ErrorBody{Kind: de.Kind, Message: de.PublicMessage()}})
}
