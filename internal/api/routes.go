package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/bityield/yieldr/internal/api/handlers"
	"github.com/bityield/yieldr/internal/cache"
	"github.com/bityield/yieldr/internal/protocols"
	"github.com/bityield/yieldr/internal/services"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Dependencies carries everything the route handlers need.
type Dependencies struct {
	Cache       *cache.Cache
	Aggregator  *services.Aggregator
	Recommender services.Recommender
	Updater     *services.Updater
	Clients     []protocols.Client
	Oracle      protocols.PriceOracle
	Logger      *slog.Logger
}

// SetupRoutes registers the HTTP surface on the given engine.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	yields := handlers.NewYieldHandler(deps.Cache, deps.Aggregator, deps.Logger)
	recommendations := handlers.NewRecommendationHandler(deps.Recommender, yields, deps.Logger)
	cacheHandler := handlers.NewCacheHandler(deps.Cache, deps.Logger)
	health := handlers.NewHealthHandler(deps.Cache, deps.Clients, deps.Oracle, deps.Updater, Version, deps.Logger)

	router.GET("/health", health.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		yieldRoutes := v1.Group("/yields")
		{
			yieldRoutes.GET("", yields.GetYields)
			yieldRoutes.GET("/:protocol", yields.GetProtocolYields)
		}

		v1.POST("/recommendations", recommendations.CreateRecommendation)

		cacheRoutes := v1.Group("/cache")
		{
			cacheRoutes.DELETE("", cacheHandler.InvalidateCache)
			cacheRoutes.GET("/stats", cacheHandler.GetCacheStats)
			cacheRoutes.POST("/stats/reset", cacheHandler.ResetCacheStats)
		}
	}
}
