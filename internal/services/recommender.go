package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bityield/yieldr/internal/models"
)

// maxAlternatives caps the runner-up list on a recommendation.
const maxAlternatives = 3

// ErrNoEligibleOpportunities is returned when no opportunity satisfies the
// user's hard constraints.
var ErrNoEligibleOpportunities = fmt.Errorf("no opportunities satisfy the given constraints")

// Recommender produces a ranked deposit recommendation from the current
// opportunity set and a user preference.
type Recommender interface {
	Recommend(ctx context.Context, opportunities []models.YieldOpportunity, pref models.UserPreference, dataAge time.Duration) (*models.Recommendation, error)
}

// narrative holds the free-text fields a recommendation variant fills in.
type narrative struct {
	Reasoning      string   `json:"reasoning"`
	RiskAssessment string   `json:"risk_assessment"`
	Warnings       []string `json:"warnings"`
}

// selectCandidates applies the hard filters, ranks the survivors by the
// tolerance-aware composite score and returns the top choice plus up to
// three runners-up.
func selectCandidates(opportunities []models.YieldOpportunity, pref models.UserPreference) (models.YieldOpportunity, []models.YieldOpportunity, error) {
	filtered := FilterOpportunities(opportunities, FilterOptions{
		MinAPY:      pref.MinAPY,
		Protocols:   pref.PreferredProtocols,
		ExcludeIL:   pref.AvoidImpermanentLoss,
		MaxLockDays: pref.MaxLockPeriodDays,
	})

	ranked := GetTopOpportunities(filtered, maxAlternatives+1, pref.RiskTolerance)
	if len(ranked) == 0 {
		return models.YieldOpportunity{}, nil, ErrNoEligibleOpportunities
	}
	return ranked[0], ranked[1:], nil
}

// buildRecommendation assembles every deterministic field of a
// recommendation; the narrative fields are filled in by the variant.
func buildRecommendation(chosen models.YieldOpportunity, runnersUp []models.YieldOpportunity, pref models.UserPreference, dataAge time.Duration, source models.RecommendationSource) *models.Recommendation {
	alternatives := make([]models.Alternative, 0, len(runnersUp))
	for _, alt := range runnersUp {
		alternatives = append(alternatives, models.Alternative{
			Opportunity: alt,
			Pros:        alternativePros(alt, chosen),
			Cons:        alternativeCons(alt, chosen),
		})
	}

	return &models.Recommendation{
		ID:                  uuid.NewString(),
		Protocol:            chosen.Protocol,
		PoolID:              chosen.PoolID,
		PoolName:            chosen.PoolName,
		ExpectedAPY:         chosen.APY,
		RiskLevel:           chosen.RiskLevel,
		ImpermanentLossRisk: chosen.ImpermanentLossRisk,
		Alternatives:        alternatives,
		ProjectedEarnings:   models.ProjectEarnings(pref.AmountSats, chosen.APY),
		Confidence:          confidenceScore(chosen, pref, dataAge),
		Disclaimers:         models.Disclaimers,
		GeneratedAt:         time.Now(),
		DataAgeSeconds:      int64(dataAge.Seconds()),
		Source:              source,
	}
}

// idealRisk is the risk level that matches a tolerance tier exactly.
func idealRisk(t models.RiskTolerance) models.RiskLevel {
	switch t {
	case models.ToleranceConservative:
		return models.RiskLow
	case models.ToleranceModerate:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// confidenceScore rates the recommendation in [0,1]: higher when the chosen
// risk matches the tolerance exactly and the data is fresh, lower when the
// APY is extreme or the data is stale.
func confidenceScore(chosen models.YieldOpportunity, pref models.UserPreference, dataAge time.Duration) float64 {
	conf := 0.5

	if chosen.RiskLevel == idealRisk(pref.RiskTolerance) {
		conf += 0.2
	} else if pref.RiskTolerance.Allows(chosen.RiskLevel) {
		conf += 0.1
	}

	switch {
	case dataAge <= time.Minute:
		conf += 0.2
	case dataAge <= 5*time.Minute:
		conf += 0.1
	default:
		conf -= 0.1
	}

	switch {
	case chosen.APY > 50:
		conf -= 0.2
	case chosen.APY > 20:
		conf -= 0.1
	}

	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// standardWarnings derives the warning list both variants share.
func standardWarnings(chosen models.YieldOpportunity, dataAge time.Duration) []string {
	var warnings []string
	if chosen.APY > 50 {
		warnings = append(warnings, fmt.Sprintf("APY of %.1f%% is exceptionally high and unlikely to be sustained", chosen.APY))
	}
	if chosen.ImpermanentLossRisk {
		warnings = append(warnings, "Liquidity positions are exposed to impermanent loss if pair prices diverge")
	}
	if chosen.LockPeriodDays > 0 {
		warnings = append(warnings, fmt.Sprintf("Deposits are locked for %d days", chosen.LockPeriodDays))
	}
	if dataAge > 5*time.Minute {
		warnings = append(warnings, fmt.Sprintf("Yield data is %d minutes old; rates may have moved", int(dataAge.Minutes())))
	}
	return warnings
}

func alternativePros(alt, chosen models.YieldOpportunity) []string {
	var pros []string
	if alt.APY > chosen.APY {
		pros = append(pros, fmt.Sprintf("Higher APY (%.1f%% vs %.1f%%)", alt.APY, chosen.APY))
	}
	if alt.TVLUSD > chosen.TVLUSD {
		pros = append(pros, "Deeper liquidity than the recommended pool")
	}
	if alt.RiskLevel.Ordinal() < chosen.RiskLevel.Ordinal() {
		pros = append(pros, fmt.Sprintf("Lower risk tier (%s)", alt.RiskLevel))
	}
	if !alt.ImpermanentLossRisk && chosen.ImpermanentLossRisk {
		pros = append(pros, "No impermanent loss exposure")
	}
	if alt.LockPeriodDays == 0 && chosen.LockPeriodDays > 0 {
		pros = append(pros, "No lock period")
	}
	if len(pros) == 0 {
		pros = append(pros, "Spreads exposure across an additional pool")
	}
	return pros
}

func alternativeCons(alt, chosen models.YieldOpportunity) []string {
	var cons []string
	if alt.APY < chosen.APY {
		cons = append(cons, fmt.Sprintf("Lower APY (%.1f%% vs %.1f%%)", alt.APY, chosen.APY))
	}
	if alt.TVLUSD < chosen.TVLUSD {
		cons = append(cons, "Thinner liquidity than the recommended pool")
	}
	if alt.RiskLevel.Ordinal() > chosen.RiskLevel.Ordinal() {
		cons = append(cons, fmt.Sprintf("Higher risk tier (%s)", alt.RiskLevel))
	}
	if alt.ImpermanentLossRisk && !chosen.ImpermanentLossRisk {
		cons = append(cons, "Exposed to impermanent loss")
	}
	if alt.LockPeriodDays > chosen.LockPeriodDays {
		cons = append(cons, fmt.Sprintf("%d-day lock period", alt.LockPeriodDays))
	}
	if len(cons) == 0 {
		cons = append(cons, "Scores below the recommended pool on the composite ranking")
	}
	return cons
}

// RuleBasedRecommender generates the narrative fields from fixed templates
// keyed off the chosen opportunity's attributes.
type RuleBasedRecommender struct {
	logger *slog.Logger
}

func NewRuleBasedRecommender(logger *slog.Logger) *RuleBasedRecommender {
	return &RuleBasedRecommender{logger: logger}
}

func (r *RuleBasedRecommender) Recommend(ctx context.Context, opportunities []models.YieldOpportunity, pref models.UserPreference, dataAge time.Duration) (*models.Recommendation, error) {
	chosen, runnersUp, err := selectCandidates(opportunities, pref)
	if err != nil {
		return nil, err
	}

	rec := buildRecommendation(chosen, runnersUp, pref, dataAge, models.SourceRuleBased)
	rec.Reasoning = r.reasoning(chosen, pref)
	rec.RiskAssessment = r.riskAssessment(chosen)
	rec.Warnings = standardWarnings(chosen, dataAge)
	return rec, nil
}

func (r *RuleBasedRecommender) reasoning(chosen models.YieldOpportunity, pref models.UserPreference) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s offers %.1f%% APY with $%.1fM locked, the best risk-adjusted score among pools matching a %s profile.",
		chosen.PoolName, chosen.Protocol, chosen.APY, chosen.TVLUSD/1_000_000, pref.RiskTolerance)
	if chosen.APYBreakdown != nil && chosen.APYBreakdown.Estimated {
		b.WriteString(" Part of the yield is an estimate derived from pool size rather than reported emissions.")
	}
	if chosen.LockPeriodDays == 0 {
		b.WriteString(" Funds remain withdrawable at any time.")
	}
	return b.String()
}

func (r *RuleBasedRecommender) riskAssessment(chosen models.YieldOpportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assessed %s risk.", chosen.RiskLevel)
	for _, factor := range chosen.RiskFactors {
		b.WriteString(" ")
		b.WriteString(factor)
		b.WriteString(".")
	}
	if len(chosen.RiskFactors) == 0 {
		b.WriteString(" Standard smart-contract and market risks apply.")
	}
	return b.String()
}
