package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
)

// ActionHandler serves the action interface
type ActionHandler struct {
	dispatcher *app.ActionDispatcher
	logger     *zap.Logger
}

// NewActionHandler creates a new action handler
func NewActionHandler(dispatcher *app.ActionDispatcher, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Dispatch handles POST /api/v1/actions
func (h *ActionHandler) Dispatch(c *gin.Context) {
	var req app.ActionRequest
	// The throttle middleware may already have read the body
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondError(c, domain.NewError(domain.KindConfigError, "decode request", "request body must be a JSON action"))
		return
	}

	resp, err := h.dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		h.logger.Info("Action rejected",
			zap.String("action", req.Action),
			zap.String("kind", string(domain.KindOf(err))))
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if req.Action == app.ActionDownloadVideo && resp.Result == nil {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

// ListActions handles GET /api/v1/actions
func (h *ActionHandler) ListActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": app.Actions})
}
