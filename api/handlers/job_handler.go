package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	queueMgr *app.QueueManager
	logger   *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queueMgr *app.QueueManager, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		queueMgr: queueMgr,
		logger:   logger,
	}
}

// jobFilters are the query parameters accepted by ListJobs, keyed by column
var jobFilters = map[string]string{
	"phase":      "phase",
	"platform":   "platform",
	"link_kind":  "link_kind",
	"error_kind": "error_kind",
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	filters := make(map[string]interface{})
	for param, column := range jobFilters {
		if v := c.Query(param); v != "" {
			filters[column] = v
		}
	}
	if phase, ok := filters["phase"]; ok && !domain.ValidatePhase(domain.Phase(phase.(string))) {
		respondError(c, domain.NewError(domain.KindConfigError, "list jobs", "unknown phase"))
		return
	}

	jobs, err := h.queueMgr.ListJobs(filters)
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}

	c.JSON(http.StatusOK, jobs)
}

// GetStats handles GET /api/v1/jobs/stats
func (h *JobHandler) GetStats(c *gin.Context) {
	stats, err := h.queueMgr.GetStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.queueMgr.GetJob(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// GetArtifact handles GET /api/v1/jobs/:id/artifact
func (h *JobHandler) GetArtifact(c *gin.Context) {
	job, err := h.queueMgr.GetJob(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if job.ArtifactPath == "" || (job.Phase != domain.PhaseSucceeded && job.Phase != domain.PhasePartial) {
		respondError(c, domain.NewError(domain.KindNotFound, "get artifact", "job has no artifact"))
		return
	}
	if _, err := os.Stat(job.ArtifactPath); err != nil {
		respondError(c, domain.NewError(domain.KindNotFound, "get artifact", "artifact was removed"))
		return
	}

	c.FileAttachment(job.ArtifactPath, filepath.Base(job.ArtifactPath))
}

// CancelJob handles POST /api/v1/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")

	if err := h.queueMgr.CancelJob(id); err != nil {
		h.logger.Info("Failed to cancel job", zap.String("id", id), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

// DeleteJob handles DELETE /api/v1/jobs/:id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id := c.Param("id")

	if err := h.queueMgr.DeleteJob(id); err != nil {
		h.logger.Info("Failed to delete job", zap.String("id", id), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job deleted"})
}
