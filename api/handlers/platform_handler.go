package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/course-extract-go/internal/domain"
)

// PlatformLister reports the platforms links can be resolved for
type PlatformLister interface {
	Platforms() []domain.Platform
}

// PlatformHandler serves the supported platform list
type PlatformHandler struct {
	lister PlatformLister
}

// NewPlatformHandler creates a new platform handler
func NewPlatformHandler(lister PlatformLister) *PlatformHandler {
	return &PlatformHandler{lister: lister}
}

// ListPlatforms handles GET /api/v1/platforms
func (h *PlatformHandler) ListPlatforms(c *gin.Context) {
	platforms := h.lister.Platforms()
	if platforms == nil {
		platforms = []domain.Platform{}
	}
	c.JSON(http.StatusOK, gin.H{"platforms": platforms})
}
