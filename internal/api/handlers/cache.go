package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bityield/yieldr/internal/cache"
)

// CacheHandler exposes cache invalidation and hit/miss analytics.
type CacheHandler struct {
	cache  *cache.Cache
	logger *slog.Logger
}

func NewCacheHandler(c *cache.Cache, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{cache: c, logger: logger}
}

// InvalidateCache deletes cached yield data. An optional pattern query
// restricts the deletion; the default wipes everything under the prefix.
func (h *CacheHandler) InvalidateCache(c *gin.Context) {
	pattern := c.DefaultQuery("pattern", "*")

	deleted, err := h.cache.DeletePattern(c.Request.Context(), pattern)
	if err != nil {
		h.logger.Error("cache invalidation failed", "pattern", pattern, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "cache invalidation failed",
		})
		return
	}

	h.logger.Info("cache invalidated", "pattern", pattern, "deleted", deleted)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"deleted": deleted,
		"pattern": pattern,
	})
}

// GetCacheStats returns hit/miss/set counters since startup or the last
// reset.
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"sets":     stats.Sets,
			"hit_rate": hitRate,
		},
	})
}

// ResetCacheStats zeroes the counters.
func (h *CacheHandler) ResetCacheStats(c *gin.Context) {
	h.cache.ResetStats()
	c.JSON(http.StatusOK, gin.H{"success": true})
}
