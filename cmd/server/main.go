package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/bityield/yieldr/internal/api"
	"github.com/bityield/yieldr/internal/cache"
	"github.com/bityield/yieldr/internal/config"
	"github.com/bityield/yieldr/internal/database"
	"github.com/bityield/yieldr/internal/logging"
	"github.com/bityield/yieldr/internal/protocols"
	"github.com/bityield/yieldr/internal/services"
)

func main() {
	// Optional .env for local development; the container gets real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	logger := stdLogger.Logger()

	redisConn, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisConn.Close()

	yieldCache := cache.New(redisConn.Client, cfg.Cache.KeyPrefix, cfg.Cache.CacheTTL(), cfg.Cache.StaleAfter(), stdLogger.WithComponent("cache"))

	oracle := protocols.NewCoinGeckoOracle(cfg.Oracle, stdLogger.WithComponent("oracle"))
	clients := []protocols.Client{
		protocols.NewVelarClient(cfg.Protocols, oracle, stdLogger.WithProtocol("velar")),
		protocols.NewAlexClient(cfg.Protocols, oracle, stdLogger.WithProtocol("alex")),
	}

	aggregator := services.NewAggregator(clients, stdLogger.WithComponent("aggregator"))

	ruleBased := services.NewRuleBasedRecommender(stdLogger.WithComponent("recommender"))
	var primary services.Recommender
	if cfg.Recommendation.AIEnabled {
		primary = services.NewAIRecommender(cfg.Recommendation, stdLogger.WithComponent("ai_recommender"))
		logger.Info("AI recommendations enabled", "model", cfg.Recommendation.Model)
	}
	recommender := services.NewRecommendationService(primary, ruleBased, stdLogger.WithComponent("recommender"))

	interval, _ := time.ParseDuration(cfg.Updater.Interval)
	updater := services.NewUpdater(aggregator, yieldCache, interval, cfg.Updater.MaxAPY, stdLogger.WithComponent("updater"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := updater.Start(ctx); err != nil {
		log.Fatalf("Failed to start updater: %v", err)
	}
	defer updater.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	api.SetupRoutes(router, api.Dependencies{
		Cache:       yieldCache,
		Aggregator:  aggregator,
		Recommender: recommender,
		Updater:     updater,
		Clients:     clients,
		Oracle:      oracle,
		Logger:      stdLogger.WithComponent("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stdLogger.LogStartup("yieldr", api.Version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	stdLogger.LogShutdown("yieldr", "signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
