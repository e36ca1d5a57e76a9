package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/course-extract-go/api/handlers"
	"github.com/yourusername/course-extract-go/api/middleware"
	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/pkg/logger"
)

// Services bundles what the router serves
type Services struct {
	Dispatcher *app.ActionDispatcher
	QueueMgr   *app.QueueManager
	Platforms  handlers.PlatformLister
	LogAdapter *logger.LoggerAdapter
	LogsDir    string
}

// SetupRouter sets up the HTTP router
func SetupRouter(svc Services, serverCfg domain.ServerConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(svc.LogAdapter))
	router.Use(middleware.Recovery(svc.LogAdapter))
	router.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(svc.QueueMgr)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		actionHandler := handlers.NewActionHandler(svc.Dispatcher, svc.LogAdapter.General())
		throttle := middleware.NewKeyedLimiter(serverCfg.ActionRate, serverCfg.ActionBurst)
		v1.GET("/actions", actionHandler.ListActions)
		v1.POST("/actions", middleware.Throttle(throttle, middleware.ActionKey), actionHandler.Dispatch)

		jobHandler := handlers.NewJobHandler(svc.QueueMgr, svc.LogAdapter.General())
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/stats", jobHandler.GetStats)
			jobs.GET("/:id", jobHandler.GetJob)
			jobs.GET("/:id/artifact", jobHandler.GetArtifact)
			jobs.POST("/:id/cancel", jobHandler.CancelJob)
			jobs.DELETE("/:id", jobHandler.DeleteJob)
		}

		platformHandler := handlers.NewPlatformHandler(svc.Platforms)
		v1.GET("/platforms", platformHandler.ListPlatforms)

		logHandler := handlers.NewLogHandler(svc.LogsDir)
		streamHandler := handlers.NewLogWebSocketHandler(svc.LogsDir, svc.LogAdapter.General())
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/stream", streamHandler.Stream)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": handlers.ErrorBody{Kind: domain.KindNotFound, Message: "route not found"},
		})
	})

	return router
}
