package models

import (
	"fmt"
	"math"
	"time"
)

// Protocol identifies a supported Stacks yield protocol.
type Protocol string

const (
	ProtocolVelar Protocol = "velar"
	ProtocolAlex  Protocol = "alex"
)

// SupportedProtocols lists every protocol the aggregator can fetch.
var SupportedProtocols = []Protocol{ProtocolVelar, ProtocolAlex}

// IsValid reports whether the protocol is one of the supported ones.
func (p Protocol) IsValid() bool {
	for _, sp := range SupportedProtocols {
		if p == sp {
			return true
		}
	}
	return false
}

// ProtocolType categorizes the kind of yield-bearing position.
type ProtocolType string

const (
	TypeLending         ProtocolType = "lending"
	TypeLiquidityPool   ProtocolType = "liquidity_pool"
	TypeStaking         ProtocolType = "staking"
	TypeYieldFarming    ProtocolType = "yield_farming"
	TypeAutoCompounding ProtocolType = "auto_compounding"
)

// RiskLevel is the assessed risk tier of an opportunity.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Ordinal returns the risk level as a comparable integer (low < medium < high).
func (r RiskLevel) Ordinal() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

const (
	// MaxAPY is the upper bound for a plausible APY percentage.
	MaxAPY = 10000.0
	// APYBreakdownTolerance is the allowed drift between the breakdown sum
	// and the total APY.
	APYBreakdownTolerance = 0.1
)

// APYBreakdown splits a total APY into its components. Estimated marks the
// rewards leg as derived from the TVL-bucket heuristic rather than vendor data.
type APYBreakdown struct {
	Base      float64 `json:"base"`
	Rewards   float64 `json:"rewards"`
	Fees      float64 `json:"fees,omitempty"`
	Estimated bool    `json:"estimated,omitempty"`
}

// FeeSchedule holds the fee percentages charged by a pool.
type FeeSchedule struct {
	Deposit     float64 `json:"deposit"`
	Withdrawal  float64 `json:"withdrawal"`
	Performance float64 `json:"performance"`
}

// YieldOpportunity is a normalized snapshot of one yield-bearing position on
// one protocol. Instances are created fresh on every fetch cycle and never
// mutated in place.
type YieldOpportunity struct {
	Protocol            Protocol      `json:"protocol"`
	ProtocolType        ProtocolType  `json:"protocol_type"`
	PoolID              string        `json:"pool_id"`
	PoolName            string        `json:"pool_name"`
	APY                 float64       `json:"apy"`
	APYBreakdown        *APYBreakdown `json:"apy_breakdown,omitempty"`
	TVLUSD              float64       `json:"tvl_usd"`
	TVLSBTC             float64       `json:"tvl_sbtc"`
	Volume24hUSD        float64       `json:"volume_24h_usd,omitempty"`
	RiskLevel           RiskLevel     `json:"risk_level"`
	RiskFactors         []string      `json:"risk_factors"`
	MinDepositSats      int64         `json:"min_deposit_sats"`
	MaxDepositSats      int64         `json:"max_deposit_sats"`
	LockPeriodDays      int           `json:"lock_period_days"`
	Fees                FeeSchedule   `json:"fees"`
	ImpermanentLossRisk bool          `json:"impermanent_loss_risk"`
	Audited             bool          `json:"audited"`
	ProtocolAgeDays     int           `json:"protocol_age_days"`
	ContractAddress     string        `json:"contract_address"`
	Description         string        `json:"description"`
	UpdatedAt           int64         `json:"updated_at"` // epoch milliseconds
}

// Validate checks the opportunity against the schema invariants.
func (o *YieldOpportunity) Validate() error {
	if !o.Protocol.IsValid() {
		return fmt.Errorf("unknown protocol %q", o.Protocol)
	}
	if o.APY < 0 || o.APY > MaxAPY {
		return fmt.Errorf("apy %.2f outside [0, %.0f]", o.APY, MaxAPY)
	}
	if o.TVLUSD < 0 {
		return fmt.Errorf("tvl_usd %.2f is negative", o.TVLUSD)
	}
	for name, pct := range map[string]float64{
		"deposit":     o.Fees.Deposit,
		"withdrawal":  o.Fees.Withdrawal,
		"performance": o.Fees.Performance,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%s fee %.2f outside [0, 100]", name, pct)
		}
	}
	if b := o.APYBreakdown; b != nil {
		if diff := math.Abs(b.Base + b.Rewards - o.APY); diff > APYBreakdownTolerance {
			return fmt.Errorf("apy breakdown sum differs from apy by %.4f", diff)
		}
	}
	return nil
}

// Age returns how long ago the opportunity snapshot was taken.
func (o *YieldOpportunity) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(o.UpdatedAt))
}

// ProtocolData wraps the opportunities fetched from one protocol plus fetch
// metadata. Created once per aggregation cycle; immutable afterwards.
type ProtocolData struct {
	Protocol      Protocol           `json:"protocol"`
	Success       bool               `json:"success"`
	Error         string             `json:"error,omitempty"`
	FetchedAt     int64              `json:"fetched_at"` // epoch milliseconds
	TVLUSD        float64            `json:"tvl_usd"`
	Opportunities []YieldOpportunity `json:"opportunities"`
}

// AggregatedYieldData is the top-level snapshot stored in the cache.
type AggregatedYieldData struct {
	Protocols          []ProtocolData    `json:"protocols"`
	TotalOpportunities int               `json:"total_opportunities"`
	TotalTVLUSD        float64           `json:"total_tvl_usd"`
	BestAPY            *YieldOpportunity `json:"best_apy,omitempty"`
	BestStable         *YieldOpportunity `json:"best_stable,omitempty"`
	UpdatedAt          int64             `json:"updated_at"` // epoch milliseconds
}

// AllOpportunities flattens every protocol's opportunity list in protocol order.
func (a *AggregatedYieldData) AllOpportunities() []YieldOpportunity {
	var out []YieldOpportunity
	for _, pd := range a.Protocols {
		out = append(out, pd.Opportunities...)
	}
	return out
}

// FailedProtocols returns the protocols whose fetch did not succeed.
func (a *AggregatedYieldData) FailedProtocols() []Protocol {
	var failed []Protocol
	for _, pd := range a.Protocols {
		if !pd.Success {
			failed = append(failed, pd.Protocol)
		}
	}
	return failed
}

// DataAge returns the snapshot age relative to now.
func (a *AggregatedYieldData) DataAge(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(a.UpdatedAt))
}
