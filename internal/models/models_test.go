package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOpportunity() YieldOpportunity {
	return YieldOpportunity{
		Protocol:     ProtocolVelar,
		ProtocolType: TypeLiquidityPool,
		PoolID:       "velar-sbtc-stx",
		PoolName:     "sBTC-STX",
		APY:          12.5,
		APYBreakdown: &APYBreakdown{Base: 4.5, Rewards: 8.0},
		TVLUSD:       5_000_000,
		RiskLevel:    RiskMedium,
		RiskFactors:  []string{"Impermanent loss risk from sBTC/STX price divergence", "Smart contract risk"},
		Fees:         FeeSchedule{Withdrawal: 0.3},
		UpdatedAt:    time.Now().UnixMilli(),
	}
}

func TestYieldOpportunityValidate(t *testing.T) {
	opp := validOpportunity()
	require.NoError(t, opp.Validate())

	t.Run("apy out of range", func(t *testing.T) {
		o := validOpportunity()
		o.APY = 10001
		o.APYBreakdown = nil
		assert.Error(t, o.Validate())

		o.APY = -1
		assert.Error(t, o.Validate())
	})

	t.Run("negative tvl", func(t *testing.T) {
		o := validOpportunity()
		o.TVLUSD = -5
		assert.Error(t, o.Validate())
	})

	t.Run("fee out of range", func(t *testing.T) {
		o := validOpportunity()
		o.Fees.Performance = 150
		assert.Error(t, o.Validate())
	})

	t.Run("breakdown mismatch", func(t *testing.T) {
		o := validOpportunity()
		o.APYBreakdown = &APYBreakdown{Base: 1.0, Rewards: 1.0}
		assert.Error(t, o.Validate())
	})

	t.Run("breakdown within tolerance", func(t *testing.T) {
		o := validOpportunity()
		o.APYBreakdown = &APYBreakdown{Base: 4.55, Rewards: 8.0}
		assert.NoError(t, o.Validate())
	})

	t.Run("unknown protocol", func(t *testing.T) {
		o := validOpportunity()
		o.Protocol = Protocol("zest")
		assert.Error(t, o.Validate())
	})
}

func TestRiskLevelOrdinal(t *testing.T) {
	assert.Less(t, RiskLow.Ordinal(), RiskMedium.Ordinal())
	assert.Less(t, RiskMedium.Ordinal(), RiskHigh.Ordinal())
}

func TestRiskToleranceAllows(t *testing.T) {
	assert.True(t, ToleranceConservative.Allows(RiskLow))
	assert.False(t, ToleranceConservative.Allows(RiskMedium))
	assert.True(t, ToleranceModerate.Allows(RiskMedium))
	assert.False(t, ToleranceModerate.Allows(RiskHigh))
	assert.True(t, ToleranceAggressive.Allows(RiskHigh))
	assert.Empty(t, RiskTolerance("reckless").AllowedRiskLevels())
}

func TestProjectEarnings(t *testing.T) {
	// 1 BTC-equivalent at 10% APY.
	earnings := ProjectEarnings(100_000_000, 10)

	yearly := earnings.YearlySats
	assert.True(t, yearly.Equal(decimal.NewFromInt(10_000_000)), "yearly = %s", yearly)

	// yearly ~ monthly*12 ~ daily*365 within rounding of one sat per period.
	monthlyScaled := earnings.MonthlySats.Mul(decimal.NewFromInt(12))
	dailyScaled := earnings.DailySats.Mul(decimal.NewFromInt(365))
	assert.True(t, yearly.Sub(monthlyScaled).Abs().LessThanOrEqual(decimal.NewFromInt(12)))
	assert.True(t, yearly.Sub(dailyScaled).Abs().LessThanOrEqual(decimal.NewFromInt(365)))
}

func TestAggregatedYieldDataHelpers(t *testing.T) {
	opp := validOpportunity()
	agg := AggregatedYieldData{
		Protocols: []ProtocolData{
			{Protocol: ProtocolVelar, Success: true, Opportunities: []YieldOpportunity{opp, opp}},
			{Protocol: ProtocolAlex, Success: false, Error: "connection refused"},
		},
		UpdatedAt: time.Now().Add(-30 * time.Second).UnixMilli(),
	}

	assert.Len(t, agg.AllOpportunities(), 2)
	assert.Equal(t, []Protocol{ProtocolAlex}, agg.FailedProtocols())
	assert.InDelta(t, 30, agg.DataAge(time.Now()).Seconds(), 1)
}
