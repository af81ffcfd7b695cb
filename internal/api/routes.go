package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noisemap/internal/api/handlers"
	"noisemap/internal/api/middleware"
	"noisemap/internal/config"
)

type Router struct {
	cfg                *config.Config
	measurementHandler *handlers.MeasurementHandler
	authHandler        *handlers.AuthHandler
	sessions           *middleware.Sessions
}

func NewRouter(
	cfg *config.Config,
	measurementHandler *handlers.MeasurementHandler,
	authHandler *handlers.AuthHandler,
	sessions *middleware.Sessions,
) *Router {
	return &Router{
		cfg:                cfg,
		measurementHandler: measurementHandler,
		authHandler:        authHandler,
		sessions:           sessions,
	}
}

func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(
		gin.Recovery(),
		middleware.RequestLogger(),
		cors.New(r.corsConfig()),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{r.cfg.Metrics.Path})),
	)

	// Health check endpoint
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if r.cfg.Metrics.Enabled {
		engine.GET(r.cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Noise readings
	engine.POST("/measurements", r.measurementHandler.AddMeasurement)
	engine.GET("/measurements", r.measurementHandler.GetMeasurements)

	// Accounts
	engine.POST("/register", r.authHandler.Register)
	engine.POST("/login", r.authHandler.Login)

	// Protected routes
	session := engine.Group("/")
	session.Use(r.sessions.RequireSession())
	{
		session.GET("/logout", r.authHandler.Logout)
		session.GET("/profile", r.authHandler.Profile)
	}
}

func (r *Router) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}
	origins := r.cfg.Server.CORSOrigins
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
