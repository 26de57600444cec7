package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/tagging-api/internal/handlers"
	"github.com/Brownie44l1/tagging-api/internal/middleware"
)

// Setup creates and configures the Gin router
func Setup(h *handlers.Handler, metricsHandler http.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	router.POST("/tags", h.Tags)
	router.POST("/recognize", h.Recognize)

	return router
}
