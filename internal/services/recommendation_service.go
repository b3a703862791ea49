package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bityield/yieldr/internal/models"
)

// RecommendationService fronts the engine variants: it tries the AI variant
// when one is configured and falls back to the rule-based variant on any
// failure. The response carries the source tag so callers can tell which
// variant answered.
type RecommendationService struct {
	primary  Recommender
	fallback Recommender
	logger   *slog.Logger
}

func NewRecommendationService(primary, fallback Recommender, logger *slog.Logger) *RecommendationService {
	return &RecommendationService{primary: primary, fallback: fallback, logger: logger}
}

func (s *RecommendationService) Recommend(ctx context.Context, opportunities []models.YieldOpportunity, pref models.UserPreference, dataAge time.Duration) (*models.Recommendation, error) {
	if err := pref.Validate(); err != nil {
		return nil, err
	}

	if s.primary != nil {
		rec, err := s.primary.Recommend(ctx, opportunities, pref, dataAge)
		if err == nil {
			return rec, nil
		}
		// No eligible candidates is a user-facing outcome, not a variant
		// failure; the fallback would reach the same conclusion.
		if errors.Is(err, ErrNoEligibleOpportunities) {
			return nil, err
		}
		s.logger.Warn("primary recommender failed, falling back", "error", err)
	}

	return s.fallback.Recommend(ctx, opportunities, pref, dataAge)
}
