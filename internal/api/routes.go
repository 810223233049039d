// Package api is the HTTP facade over the session service.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"rustsentry/internal/services"
)

type Deps struct {
	Sessions services.SessionService
	Queue    QueueDepther
	Metrics  http.Handler
	Polling  PollingConfig
	// MaxBodyBytes limits the create request body. Zero disables the limit.
	MaxBodyBytes int64
}

// NewRouter builds the engine with the standard middleware stack and all routes.
func NewRouter(mode string, deps Deps) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(Recovery(), otelgin.Middleware("rustsentry"), AccessLog())
	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", HealthCheck(deps.Queue))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/config/polling", GetPollingConfig(deps.Polling))

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", CreateSession(deps.Sessions, deps.MaxBodyBytes))
			sessions.GET("", ListSessions(deps.Sessions))
			sessions.GET("/:id", GetSession(deps.Sessions))
			sessions.GET("/:id/status", GetStatus(deps.Sessions))
			sessions.GET("/:id/artifacts", ListArtifacts(deps.Sessions))
			sessions.DELETE("/:id", DeleteSession(deps.Sessions))
		}
	}
}
