package handlers

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/pkg/logger"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	dateLayout      = "2006-01-02"
)

// LogHandler handles log-related requests
type LogHandler struct {
	logReader *logger.LogReader
}

// NewLogHandler creates a new log handler
func NewLogHandler(logsDir string) *LogHandler {
	return &LogHandler{
		logReader: logger.NewLogReader(logsDir),
	}
}

// logQuery holds the parsed category, date and limit of a log request
type logQuery struct {
	category logger.LogCategory
	date     time.Time
	limit    int
}

func parseLogQuery(c *gin.Context) (logQuery, bool) {
	q := logQuery{category: logger.LogCategory(c.Param("category")), date: time.Now(), limit: defaultLogLimit}

	if !logger.ValidCategory(q.category) {
		respondError(c, domain.NewError(domain.KindConfigError, "read logs", "invalid category"))
		return q, false
	}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit >= 0 {
		q.limit = limit
	}
	if q.limit > maxLogLimit {
		q.limit = maxLogLimit
	}

	if dateStr := c.Query("date"); dateStr != "" {
		date, err := time.ParseInLocation(dateLayout, dateStr, time.Local)
		if err != nil {
			respondError(c, domain.NewError(domain.KindConfigError, "read logs", "invalid date format, use YYYY-MM-DD"))
			return q, false
		}
		q.date = date
	}
	return q, true
}

// GetLogs handles GET /api/v1/logs/:category
func (h *LogHandler) GetLogs(c *gin.Context) {
	q, ok := parseLogQuery(c)
	if !ok {
		return
	}

	entries, err := h.logReader.ReadLogs(q.category, q.date, q.limit)
	if err != nil {
		respondError(c, domain.WrapError(domain.KindInternal, "read logs", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category": q.category,
		"date":     q.date.Format(dateLayout),
		"count":    len(entries),
		"entries":  entries,
	})
}

// SearchLogs handles GET /api/v1/logs/:category/search
func (h *LogHandler) SearchLogs(c *gin.Context) {
	q, ok := parseLogQuery(c)
	if !ok {
		return
	}

	query := c.Query("q")
	if query == "" {
		respondError(c, domain.NewError(domain.KindConfigError, "search logs", "query parameter 'q' is required"))
		return
	}

	entries, err := h.logReader.SearchLogs(q.category, q.date, query, q.limit)
	if err != nil {
		respondError(c, domain.WrapError(domain.KindInternal, "search logs", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category": q.category,
		"query":    query,
		"count":    len(entries),
		"entries":  entries,
	})
}

// GetCategories handles GET /api/v1/logs/categories
func (h *LogHandler) GetCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"categories": logger.Categories,
	})
}

// ExportLogs handles GET /api/v1/logs/:category/export
func (h *LogHandler) ExportLogs(c *gin.Context) {
	q, ok := parseLogQuery(c)
	if !ok {
		return
	}

	if _, err := os.Stat(h.logReader.GetLogPath(q.category, q.date)); err != nil {
		respondError(c, domain.NewError(domain.KindNotFound, "export logs", "no log file for that date"))
		return
	}

	filename := string(q.category) + "-" + q.date.Format("20060102") + ".log"
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)

	if err := h.logReader.Export(q.category, q.date, c.Writer); err != nil {
		_ = c.Error(err)
	}
}
