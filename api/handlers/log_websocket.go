package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/pkg/logger"
)

const (
	initialStreamEntries = 50
	pingInterval         = 30 * time.Second
	writeWait            = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LogWebSocketHandler streams category logs over a websocket
type LogWebSocketHandler struct {
	logReader *logger.LogReader
	logger    *zap.Logger
}

// NewLogWebSocketHandler creates a new websocket handler
func NewLogWebSocketHandler(logsDir string, log *zap.Logger) *LogWebSocketHandler {
	return &LogWebSocketHandler{
		logReader: logger.NewLogReader(logsDir),
		logger:    log,
	}
}

// Stream handles GET /api/v1/logs/stream?category=job. It sends the most
// recent entries and then tails the log until the client disconnects.
func (h *LogWebSocketHandler) Stream(c *gin.Context) {
	category := logger.LogCategory(c.DefaultQuery("category", string(logger.CategoryJob)))
	if !logger.ValidCategory(category) {
		respondError(c, domain.NewError(domain.KindConfigError, "stream logs", "invalid category"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("Log stream client connected",
		zap.String("category", string(category)),
		zap.String("remote_addr", c.Request.RemoteAddr))

	entries, err := h.logReader.ReadLogs(category, time.Now(), initialStreamEntries)
	if err != nil {
		h.logger.Warn("Failed to read initial log entries", zap.Error(err))
	}
	for _, entry := range entries {
		if err := writeJSON(conn, entry); err != nil {
			return
		}
	}

	entryChan := make(chan logger.LogEntry, 100)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		if err := h.logReader.TailLogs(category, entryChan, stop); err != nil {
			h.logger.Warn("Log tailing stopped", zap.Error(err))
		}
	}()

	// Reads only detect the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-entryChan:
			if err := writeJSON(conn, entry); err != nil {
				h.logger.Debug("Log stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
