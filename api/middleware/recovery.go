package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/pkg/logger"
)

// Recovery converts handler panics into a 500 response
func Recovery(logAdapter *logger.LoggerAdapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logAdapter.LogError(logger.CategoryAccess, "Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("client_ip", c.ClientIP()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"kind": domain.KindInternal, "message": "internal server error"},
				})
			}
		}()
		c.Next()
	}
}
