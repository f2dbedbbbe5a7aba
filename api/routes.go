package api

import (
	"github.com/gin-gonic/gin"

	"androidbox/service"
)

func SetupRoutes(router *gin.Engine, m *service.Manager) {
	// Enable CORS
	router.Use(CORSMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus scrape endpoint
	router.GET("/metrics", MetricsHandler())

	// API routes
	api := router.Group("/api")
	{
		// Device routes
		devices := api.Group("/devices")
		{
			devices.GET("", func(c *gin.Context) {
				GetDevices(c, m)
			})
			devices.POST("", func(c *gin.Context) {
				StartDevice(c, m)
			})
			devices.GET("/:name", func(c *gin.Context) {
				GetDevice(c, m)
			})
			devices.POST("/:name/stop", func(c *gin.Context) {
				StopDevice(c, m)
			})
			devices.POST("/:name/actions", func(c *gin.Context) {
				DispatchAction(c, m)
			})
			devices.GET("/:name/actions", func(c *gin.Context) {
				GetActions(c, m)
			})
			devices.GET("/:name/screenshot", func(c *gin.Context) {
				GetScreenshot(c, m)
			})
		}
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
