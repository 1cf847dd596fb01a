package http

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// NewRouter собирает gin-движок внешнего API.
func NewRouter(cartHandler *CartHandler, checkoutHandler *CheckoutHandler, logger *log.Entry) *gin.Engine {
	if logger == nil {
		logger = log.WithField("component", "http-router")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	api := router.Group("/api")
	{
		api.POST("/cart", cartHandler.Handle)
		api.POST("/checkout", checkoutHandler.Handle)
	}

	return router
}

// requestLogger пишет access-лог в формате сервиса.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
			return
		}
		entry.Info("request handled")
	}
}
