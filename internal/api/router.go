package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/shotguess/internal/api/handler"
	"github.com/timmy/shotguess/internal/api/middleware"
)

// RouterDeps collects what the HTTP surface serves.
type RouterDeps struct {
	Jobs   handler.JobService
	Hub    http.Handler
	Health map[string]handler.Pinger
	Mode   string
	CORS   middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps) *gin.Engine {
	switch deps.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(deps.CORS))

	healthHandler := handler.NewHealthHandler(deps.Health)
	jobHandler := handler.NewJobHandler(deps.Jobs)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		imports := v1.Group("/admin/imports")
		imports.POST("", jobHandler.Start)
		imports.GET("", jobHandler.List)
		imports.GET("/active", jobHandler.Active)
		if deps.Hub != nil {
			imports.GET("/ws", gin.WrapH(deps.Hub))
		}
		imports.GET("/:id", jobHandler.Get)
		imports.POST("/:id/pause", jobHandler.Pause)
		imports.POST("/:id/resume", jobHandler.Resume)
	}

	return r
}
