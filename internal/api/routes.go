// Package api exposes the FMEA service over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fmeacore/internal/core"
	"fmeacore/internal/directory"
	"fmeacore/internal/export"
	"fmeacore/internal/insight"
)

// Deps are the collaborators the handlers need. Service is required; a nil
// Exports, Insights or Directory disables the matching endpoints' backends.
type Deps struct {
	Service   *core.Service
	Exports   *export.Worker
	Insights  *insight.Runner
	Directory *directory.Directory
	Metrics   http.Handler
	Logger    *slog.Logger
}

// NewRouter returns a gin engine with recovery, request logging and every route.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Logger))
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers the API on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Insights == nil {
		deps.Insights = insight.NewRunner(nil, insight.RunnerOptions{Logger: deps.Logger})
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	h := &handlers{Deps: deps}

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1")
	{
		v1.GET("/team-options", h.teamOptions)
		v1.GET("/dashboard/summary", h.dashboardSummary)
		v1.GET("/exports/:exportId", h.getExport)

		studies := v1.Group("/studies")
		{
			studies.GET("", h.listStudies)
			studies.POST("", h.createStudy)
			studies.GET("/:id", h.getStudy)
			studies.PUT("/:id", h.updateStudy)
			studies.DELETE("/:id", h.deleteStudy)
			studies.GET("/:id/summary", h.studySummary)
			studies.GET("/:id/worksheet", h.worksheet)

			studies.GET("/:id/items", h.listItems)
			studies.POST("/:id/items", h.createItem)
			studies.GET("/:id/items/:itemId", h.getItem)
			studies.PUT("/:id/items/:itemId", h.updateItem)
			studies.DELETE("/:id/items/:itemId", h.deleteItem)

			studies.GET("/:id/actions", h.listActions)
			studies.POST("/:id/actions", h.createAction)
			studies.GET("/:id/actions/:actionId", h.getAction)
			studies.PUT("/:id/actions/:actionId", h.updateAction)
			studies.DELETE("/:id/actions/:actionId", h.deleteAction)

			studies.GET("/:id/exports", h.listExports)
			studies.POST("/:id/exports", h.createExport)

			studies.GET("/:id/insights", h.listInsights)
			studies.GET("/:id/insights/:directive", h.getInsight)
			studies.POST("/:id/insights/:directive", h.startInsight)
		}
	}
}

type handlers struct {
	Deps
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
