package protocols

import (
	"fmt"
	"strings"

	"github.com/bityield/yieldr/internal/models"
)

// Risk scoring thresholds. Each dimension contributes 0-2 points; the total
// maps to a risk tier.
const (
	riskTVLLowUSD     = 100_000
	riskTVLMediumUSD  = 1_000_000
	riskVolumeLowUSD  = 10_000
	riskVolumeMedUSD  = 100_000
	riskAPYElevated   = 20.0
	riskAPYExtreme    = 50.0
	riskHighThreshold = 5
	riskMedThreshold  = 3
)

// riskInput carries the dimensions the point-accumulation rule scores.
type riskInput struct {
	TVLUSD       float64
	Volume24hUSD float64
	APY          float64
	// VolatilePair marks a pool whose counter-asset is neither a stablecoin
	// nor BTC-denominated.
	VolatilePair bool
	CounterAsset string
}

// assessRisk accumulates points across TVL, volume, APY magnitude and pair
// volatility and maps the total to a tier: >=5 high, >=3 medium, else low.
func assessRisk(in riskInput) (models.RiskLevel, int) {
	points := 0

	switch {
	case in.TVLUSD < riskTVLLowUSD:
		points += 2
	case in.TVLUSD < riskTVLMediumUSD:
		points++
	}

	switch {
	case in.Volume24hUSD < riskVolumeLowUSD:
		points += 2
	case in.Volume24hUSD < riskVolumeMedUSD:
		points++
	}

	switch {
	case in.APY > riskAPYExtreme:
		points += 2
	case in.APY > riskAPYElevated:
		points++
	}

	if in.VolatilePair {
		points += 2
	}

	switch {
	case points >= riskHighThreshold:
		return models.RiskHigh, points
	case points >= riskMedThreshold:
		return models.RiskMedium, points
	default:
		return models.RiskLow, points
	}
}

// riskFactors assembles the deterministic list of human-readable factors from
// the thresholds that were crossed. The impermanent-loss and smart-contract
// notes are always present.
func riskFactors(in riskInput) []string {
	factors := []string{
		fmt.Sprintf("Impermanent loss risk from sBTC/%s price divergence", in.CounterAsset),
		"Smart contract risk inherent to on-chain protocols",
	}

	if in.TVLUSD < riskTVLLowUSD {
		factors = append(factors, "Very low liquidity: exits may move the price significantly")
	} else if in.TVLUSD < riskTVLMediumUSD {
		factors = append(factors, "Low liquidity relative to established pools")
	}

	if in.Volume24hUSD < riskVolumeLowUSD {
		factors = append(factors, "Minimal trading activity in the last 24h")
	} else if in.Volume24hUSD < riskVolumeMedUSD {
		factors = append(factors, "Below-average trading activity in the last 24h")
	}

	if in.APY > riskAPYExtreme {
		factors = append(factors, "Extremely high APY is usually short-lived or incentive-driven")
	} else if in.APY > riskAPYElevated {
		factors = append(factors, "Elevated APY driven largely by reward emissions")
	}

	if in.VolatilePair {
		factors = append(factors, fmt.Sprintf("%s is a volatile counter-asset", in.CounterAsset))
	}

	return factors
}

// volatileCounterAsset reports whether the pool's counter-asset amplifies
// impermanent loss. Stablecoins and BTC-denominated assets do not.
func volatileCounterAsset(symbol string) bool {
	switch normalizeAssetSymbol(symbol) {
	case "usda", "usdc", "usdt", "susdt", "aeusdc", "abtc", "xbtc", "btc", "sbtc", "wsbtc":
		return false
	default:
		return true
	}
}

// normalizeAssetSymbol lowercases a token symbol and strips common wrapped
// prefixes (ae-, w-) so threshold checks match across protocols.
func normalizeAssetSymbol(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "ae-")
	s = strings.TrimPrefix(s, "w-")
	return s
}
