package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/bityield/yieldr/internal/models"
	"github.com/bityield/yieldr/internal/protocols"
)

// Aggregator fans out to every protocol client and merges the results into a
// single snapshot. One protocol's outage degrades its slice of the snapshot,
// never the whole aggregation.
type Aggregator struct {
	clients []protocols.Client
	logger  *slog.Logger
}

func NewAggregator(clients []protocols.Client, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		clients: clients,
		logger:  logger,
	}
}

// FetchAllOpportunities invokes every protocol client concurrently with an
// all-settled join. A client error is captured on its ProtocolData entry with
// success=false. The only error returned is the unrecoverable case where
// every protocol failed and there is no data at all.
func (a *Aggregator) FetchAllOpportunities(ctx context.Context) (*models.AggregatedYieldData, error) {
	results := make([]models.ProtocolData, len(a.clients))

	var wg sync.WaitGroup
	for i, client := range a.clients {
		wg.Add(1)
		go func(i int, client protocols.Client) {
			defer wg.Done()
			results[i] = a.fetchProtocol(ctx, client)
		}(i, client)
	}
	wg.Wait()

	agg := &models.AggregatedYieldData{
		Protocols: results,
		UpdatedAt: time.Now().UnixMilli(),
	}

	allFailed := true
	for _, pd := range results {
		if pd.Success {
			allFailed = false
		}
		agg.TotalOpportunities += len(pd.Opportunities)
		agg.TotalTVLUSD += pd.TVLUSD
	}
	if allFailed {
		return nil, fmt.Errorf("all %d protocol fetches failed", len(a.clients))
	}

	opportunities := agg.AllOpportunities()
	if len(opportunities) > 0 {
		bestAPY := lo.MaxBy(opportunities, func(a, b models.YieldOpportunity) bool { return a.APY > b.APY })
		agg.BestAPY = &bestAPY
	}
	stable := lo.Filter(opportunities, func(o models.YieldOpportunity, _ int) bool {
		return o.RiskLevel == models.RiskLow || o.RiskLevel == models.RiskMedium
	})
	if len(stable) > 0 {
		bestStable := lo.MaxBy(stable, func(a, b models.YieldOpportunity) bool { return a.TVLUSD > b.TVLUSD })
		agg.BestStable = &bestStable
	}

	return agg, nil
}

// fetchProtocol runs one client and converts its outcome into ProtocolData.
func (a *Aggregator) fetchProtocol(ctx context.Context, client protocols.Client) models.ProtocolData {
	name := client.Name()
	pd := models.ProtocolData{
		Protocol:  name,
		FetchedAt: time.Now().UnixMilli(),
	}

	opportunities, err := client.FetchYieldOpportunities(ctx)
	if err != nil {
		a.logger.Warn("Protocol fetch failed", "protocol", string(name), "error", err)
		pd.Error = err.Error()
		return pd
	}

	pd.Success = true
	pd.Opportunities = opportunities
	for _, o := range opportunities {
		pd.TVLUSD += o.TVLUSD
	}
	return pd
}

// riskMultipliers discount the score of riskier opportunities.
var riskMultipliers = map[models.RiskLevel]float64{
	models.RiskLow:    1.0,
	models.RiskMedium: 0.7,
	models.RiskHigh:   0.4,
}

// CalculateScore is the composite risk-adjusted ranking score:
// apy x log10(max(tvl, 1000)) x risk multiplier. Monotonic in APY and TVL for
// a fixed risk level, and strictly ordered low > medium > high for identical
// APY/TVL.
func CalculateScore(o models.YieldOpportunity) float64 {
	tvl := math.Max(o.TVLUSD, 1000)
	return o.APY * math.Log10(tvl) * riskMultipliers[o.RiskLevel]
}

// FilterOptions is a conjunction of independent predicates; zero values leave
// a predicate unset, so the empty options return the input unchanged.
type FilterOptions struct {
	MinAPY      float64
	MaxAPY      float64
	MinTVLUSD   float64
	MaxRisk     models.RiskLevel
	Protocols   []models.Protocol
	ExcludeIL   bool
	MaxLockDays *int
}

// FilterOpportunities returns the opportunities passing every set predicate.
func FilterOpportunities(opportunities []models.YieldOpportunity, opts FilterOptions) []models.YieldOpportunity {
	allowed := map[models.Protocol]bool{}
	for _, p := range opts.Protocols {
		allowed[p] = true
	}

	return lo.Filter(opportunities, func(o models.YieldOpportunity, _ int) bool {
		if o.APY < opts.MinAPY {
			return false
		}
		if opts.MaxAPY > 0 && o.APY > opts.MaxAPY {
			return false
		}
		if o.TVLUSD < opts.MinTVLUSD {
			return false
		}
		if opts.MaxRisk != "" && o.RiskLevel.Ordinal() > opts.MaxRisk.Ordinal() {
			return false
		}
		if len(allowed) > 0 && !allowed[o.Protocol] {
			return false
		}
		if opts.ExcludeIL && o.ImpermanentLossRisk {
			return false
		}
		if opts.MaxLockDays != nil && o.LockPeriodDays > *opts.MaxLockDays {
			return false
		}
		return true
	})
}

// SortOpportunities stably sorts by apy, tvl, risk ordinal or composite
// score, ascending or descending. The input slice is not modified.
func SortOpportunities(opportunities []models.YieldOpportunity, by string, order string) []models.YieldOpportunity {
	sorted := make([]models.YieldOpportunity, len(opportunities))
	copy(sorted, opportunities)

	key := func(o models.YieldOpportunity) float64 {
		switch by {
		case "tvl":
			return o.TVLUSD
		case "risk":
			return float64(o.RiskLevel.Ordinal())
		case "score":
			return CalculateScore(o)
		default: // "apy"
			return o.APY
		}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if order == "desc" {
			return key(sorted[i]) > key(sorted[j])
		}
		return key(sorted[i]) < key(sorted[j])
	})
	return sorted
}

// GetTopOpportunities filters to the risk levels the tolerance tier allows,
// ranks by composite score descending and truncates to limit.
func GetTopOpportunities(opportunities []models.YieldOpportunity, limit int, tolerance models.RiskTolerance) []models.YieldOpportunity {
	eligible := lo.Filter(opportunities, func(o models.YieldOpportunity, _ int) bool {
		return tolerance.Allows(o.RiskLevel)
	})
	ranked := SortOpportunities(eligible, "score", "desc")
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
