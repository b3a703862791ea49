package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bityield/yieldr/internal/models"
	"github.com/bityield/yieldr/internal/services"
)

// RecommendationHandler turns a user preference into a deposit
// recommendation over the current snapshot.
type RecommendationHandler struct {
	recommender services.Recommender
	yields      *YieldHandler
	logger      *slog.Logger
}

func NewRecommendationHandler(recommender services.Recommender, yields *YieldHandler, logger *slog.Logger) *RecommendationHandler {
	return &RecommendationHandler{recommender: recommender, yields: yields, logger: logger}
}

// CreateRecommendation handles POST /recommendations. Malformed preferences
// get a 400; a cold cache with unreachable vendors gets a 503.
func (h *RecommendationHandler) CreateRecommendation(c *gin.Context) {
	var pref models.UserPreference
	if err := c.ShouldBindJSON(&pref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid preference: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	data, _, err := h.yields.loadSnapshot(ctx)
	if err != nil {
		h.logger.Error("no yield data for recommendation", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "yield data is currently unavailable",
		})
		return
	}

	rec, err := h.recommender.Recommend(ctx, data.AllOpportunities(), pref, data.DataAge(time.Now()))
	if err != nil {
		if errors.Is(err, services.ErrNoEligibleOpportunities) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid preference: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}
