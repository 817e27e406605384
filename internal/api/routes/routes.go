package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/api/handlers"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/api/middleware"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/config"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/database"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/websocket"
)

type Router struct {
	engine          *gin.Engine
	wsHandler       *handlers.WSHandler
	trackingHandler *handlers.TrackingHandler
	authHandler     *handlers.AuthHandler
	rateLimitMW     *middleware.RateLimitMiddleware
	authMW          *middleware.AuthMiddleware
}

func NewRouter(
	hub *websocket.Hub,
	redisClient *database.RedisClient,
	cfg *config.Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	return &Router{
		engine:          engine,
		wsHandler:       handlers.NewWSHandler(hub),
		trackingHandler: handlers.NewTrackingHandler(hub),
		authHandler:     handlers.NewAuthHandler(&cfg.Admin),
		rateLimitMW:     middleware.NewRateLimitMiddleware(redisClient),
		authMW:          middleware.NewAuthMiddleware(cfg.Admin.JWTSecret),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.trackingHandler.Health)
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.engine.Group("/api/v1")
	{
		// The upgrade endpoint is throttled per IP; protocol traffic on
		// the established connection is throttled per connection inside
		// the hub.
		ws := api.Group("")
		ws.Use(r.rateLimitMW.RateLimitIP(10, time.Minute))
		r.wsHandler.RegisterRoutes(ws)

		auth := api.Group("/auth")
		auth.Use(r.rateLimitMW.RateLimitIP(5, time.Minute))
		auth.POST("/login", r.authHandler.Login)

		tracking := api.Group("/tracking")
		tracking.Use(r.authMW.RequireAuth())
		tracking.GET("/rooms", r.trackingHandler.GetRooms)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
