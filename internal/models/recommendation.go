package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskTolerance is the user-selected preference tier controlling which risk
// levels are eligible for recommendation.
type RiskTolerance string

const (
	ToleranceConservative RiskTolerance = "conservative"
	ToleranceModerate     RiskTolerance = "moderate"
	ToleranceAggressive   RiskTolerance = "aggressive"
)

// AllowedRiskLevels maps a tolerance tier to the set of eligible risk levels.
func (t RiskTolerance) AllowedRiskLevels() []RiskLevel {
	switch t {
	case ToleranceConservative:
		return []RiskLevel{RiskLow}
	case ToleranceModerate:
		return []RiskLevel{RiskLow, RiskMedium}
	case ToleranceAggressive:
		return []RiskLevel{RiskLow, RiskMedium, RiskHigh}
	default:
		return nil
	}
}

// Allows reports whether the tolerance tier permits the given risk level.
func (t RiskTolerance) Allows(r RiskLevel) bool {
	for _, allowed := range t.AllowedRiskLevels() {
		if r == allowed {
			return true
		}
	}
	return false
}

// UserPreference is the per-request deposit preference. Never persisted.
type UserPreference struct {
	AmountSats           int64         `json:"amount_sats" binding:"required,gt=0"`
	RiskTolerance        RiskTolerance `json:"risk_tolerance" binding:"required,oneof=conservative moderate aggressive"`
	TimeHorizonDays      int           `json:"time_horizon_days,omitempty" binding:"omitempty,gte=0"`
	PreferredProtocols   []Protocol    `json:"preferred_protocols,omitempty"`
	AvoidImpermanentLoss bool          `json:"avoid_impermanent_loss,omitempty"`
	MinAPY               float64       `json:"min_apy,omitempty" binding:"omitempty,gte=0"`
	MaxLockPeriodDays    *int          `json:"max_lock_period_days,omitempty" binding:"omitempty,gte=0"`
}

// Validate checks constraints the binding tags cannot express.
func (p *UserPreference) Validate() error {
	for _, proto := range p.PreferredProtocols {
		if !proto.IsValid() {
			return fmt.Errorf("unknown preferred protocol %q", proto)
		}
	}
	if p.MinAPY > MaxAPY {
		return fmt.Errorf("min_apy %.2f outside [0, %.0f]", p.MinAPY, MaxAPY)
	}
	return nil
}

// ProjectedEarnings holds expected returns in satoshis for the deposit amount.
type ProjectedEarnings struct {
	DailySats   decimal.Decimal `json:"daily_sats"`
	MonthlySats decimal.Decimal `json:"monthly_sats"`
	YearlySats  decimal.Decimal `json:"yearly_sats"`
}

// ProjectEarnings computes expected returns from amount x apy/100, scaled to
// each period.
func ProjectEarnings(amountSats int64, apy float64) ProjectedEarnings {
	yearly := decimal.NewFromInt(amountSats).Mul(decimal.NewFromFloat(apy)).Div(decimal.NewFromInt(100))
	return ProjectedEarnings{
		DailySats:   yearly.Div(decimal.NewFromInt(365)).Round(0),
		MonthlySats: yearly.Div(decimal.NewFromInt(12)).Round(0),
		YearlySats:  yearly.Round(0),
	}
}

// Alternative is a runner-up opportunity annotated with a short rationale
// relative to the recommended one.
type Alternative struct {
	Opportunity YieldOpportunity `json:"opportunity"`
	Pros        []string         `json:"pros"`
	Cons        []string         `json:"cons"`
}

// RecommendationSource tags which engine variant produced the narrative.
type RecommendationSource string

const (
	SourceAI        RecommendationSource = "ai"
	SourceRuleBased RecommendationSource = "rule_based"
)

// Disclaimers is the fixed disclaimer list attached to every recommendation.
var Disclaimers = []string{
	"DeFi yields are variable and not guaranteed; past APY is not indicative of future returns.",
	"Smart contracts carry inherent risk including the possibility of total loss of funds.",
	"This is not financial advice. Do your own research before depositing.",
}

// Recommendation is the engine's output. Created fresh per request; never
// persisted.
type Recommendation struct {
	ID                  string               `json:"id"`
	Protocol            Protocol             `json:"protocol"`
	PoolID              string               `json:"pool_id"`
	PoolName            string               `json:"pool_name"`
	ExpectedAPY         float64              `json:"expected_apy"`
	RiskLevel           RiskLevel            `json:"risk_level"`
	ImpermanentLossRisk bool                 `json:"impermanent_loss_risk"`
	Reasoning           string               `json:"reasoning"`
	RiskAssessment      string               `json:"risk_assessment"`
	Alternatives        []Alternative        `json:"alternatives"`
	ProjectedEarnings   ProjectedEarnings    `json:"projected_earnings"`
	Confidence          float64              `json:"confidence"`
	Warnings            []string             `json:"warnings,omitempty"`
	Disclaimers         []string             `json:"disclaimers"`
	GeneratedAt         time.Time            `json:"generated_at"`
	DataAgeSeconds      int64                `json:"data_age_seconds"`
	Source              RecommendationSource `json:"source"`
}
