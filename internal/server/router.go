package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/fablearn/fablearn-backend/internal/handlers"
	"github.com/fablearn/fablearn-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	GenerationHandler *handlers.GenerationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/generations", cfg.GenerationHandler.Submit)
		api.POST("/generations/background", cfg.GenerationHandler.SubmitBackground)
		api.GET("/generations/quota", cfg.GenerationHandler.Quota)
		api.GET("/stories/:id", cfg.GenerationHandler.GetStory)
		api.GET("/lectures/:id", cfg.GenerationHandler.GetLecture)
	}

	return router
}
