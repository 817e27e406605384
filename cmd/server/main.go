package main

// @title           College Bus Tracker Realtime API
// @version         1.0
// @description     Realtime coordination layer for live campus bus tracking.
// @host            localhost:3001
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/api/routes"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/config"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/database"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/events"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/ratelimit"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/session"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/websocket"
)

func main() {
	// Load .env in development; a missing file is fine in production
	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting bus tracking server")

	// Initialize Redis connection
	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize PostgreSQL connection
	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	sessionStore := session.NewStore(redisClient, db)

	// Optional event feed for downstream integrations
	var feed websocket.EventPublisher
	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		publisher = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		feed = publisher
	}

	// Per-connection rate limiter with periodic sweeping
	limiter := ratelimit.NewLimiter(
		cfg.Tracking.RateLimitWindow,
		cfg.Tracking.RateLimitMax,
		cfg.Tracking.RateLimitBlock,
	)

	hub := websocket.NewHub(limiter, sessionStore, feed, cfg.Tracking.StaleSampleCutoff)

	// Background maintenance loops
	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go limiter.Run(ctx)

	sweeper := websocket.NewSweeper(hub.Registry(),
		cfg.Tracking.SweepInterval, cfg.Tracking.RoomInactivityLimit)
	go sweeper.Run(ctx)

	// Initialize router with all dependencies
	router := routes.NewRouter(hub, redisClient, cfg)
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop background loops and close every live connection
	stopBackground()
	hub.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
