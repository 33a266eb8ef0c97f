package app

import (
	"github.com/gin-gonic/gin"

	"orgdir.io/orgdir/internal/api/handlers"
	"orgdir.io/orgdir/internal/api/middleware"
	"orgdir.io/orgdir/internal/pkg/logger"
)

func newRouter(server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	v1 := router.Group("/api/v1")
	v1.GET("/health/live", server.GetLiveness)
	v1.GET("/health/ready", server.GetReadiness)
	v1.POST("/projections/normalize", server.Normalize)
	v1.POST("/projections/materialize", server.Materialize)
	v1.GET("/entities/:entityType/states", server.GetEntityStates)

	// zap.AtomicLevel serves GET and PUT.
	level := gin.WrapH(logger.LevelHandler())
	v1.GET("/log/level", level)
	v1.PUT("/log/level", level)
	return router
}
