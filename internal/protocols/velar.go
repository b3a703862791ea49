package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bityield/yieldr/internal/config"
	"github.com/bityield/yieldr/internal/models"
)

const (
	velarLaunchDate  = "2024-02-01"
	velarWithdrawFee = 0.3
	velarMinDeposit  = 10_000 // sats
)

// VelarClient fetches sBTC liquidity pools from the Velar DEX API.
type VelarClient struct {
	http   *httpClient
	oracle PriceOracle
	logger *slog.Logger
}

func NewVelarClient(cfg config.ProtocolsConfig, oracle PriceOracle, logger *slog.Logger) *VelarClient {
	return &VelarClient{
		http:   newHTTPClient(cfg.VelarBaseURL, cfg.Timeout),
		oracle: oracle,
		logger: logger.With("protocol", string(models.ProtocolVelar)),
	}
}

func (c *VelarClient) Name() models.Protocol {
	return models.ProtocolVelar
}

type velarPoolsResponse struct {
	Data []velarPool `json:"data"`
}

type velarPool struct {
	ID             string  `json:"id"`
	Token0Symbol   string  `json:"token0Symbol"`
	Token1Symbol   string  `json:"token1Symbol"`
	Token0Contract string  `json:"token0ContractAddress"`
	Token1Contract string  `json:"token1ContractAddress"`
	LPContract     string  `json:"lpTokenContractAddress"`
	TVLUSD         float64 `json:"tvlUsd"`
}

type velarPoolStats struct {
	Fees24hUSD   float64 `json:"fees24hUsd"`
	Volume24hUSD float64 `json:"volume24hUsd"`
	RewardAPR    float64 `json:"rewardApr"`
}

// FetchYieldOpportunities lists Velar pools, keeps the sBTC-paired ones and
// fetches per-pool stats concurrently. A single pool's stats failure logs and
// omits that pool; a listing failure (or every stats fetch failing) is a
// total failure and propagates.
func (c *VelarClient) FetchYieldOpportunities(ctx context.Context) ([]models.YieldOpportunity, error) {
	var listing velarPoolsResponse
	if err := c.http.getJSON(ctx, "/watcherapp/pool", &listing); err != nil {
		return nil, fmt.Errorf("velar pool listing failed: %w", err)
	}

	var sbtcPools []velarPool
	for _, p := range listing.Data {
		if isSBTCAsset(p.Token0Symbol, p.Token0Contract) || isSBTCAsset(p.Token1Symbol, p.Token1Contract) {
			sbtcPools = append(sbtcPools, p)
		}
	}
	if len(sbtcPools) == 0 {
		c.logger.Info("No sBTC pools listed on Velar")
		return nil, nil
	}

	btcPrice := fetchBTCPrice(ctx, c.oracle, c.logger)

	type poolResult struct {
		pool  velarPool
		stats velarPoolStats
		err   error
	}

	results := make([]poolResult, len(sbtcPools))
	var wg sync.WaitGroup
	for i, p := range sbtcPools {
		wg.Add(1)
		go func(i int, p velarPool) {
			defer wg.Done()
			var stats velarPoolStats
			err := c.http.getJSON(ctx, "/watcherapp/pool/"+p.ID, &stats)
			results[i] = poolResult{pool: p, stats: stats, err: err}
		}(i, p)
	}
	wg.Wait()

	var opportunities []models.YieldOpportunity
	failures := 0
	for _, r := range results {
		if r.err != nil {
			failures++
			c.logger.Warn("Skipping Velar pool, stats fetch failed", "pool", r.pool.ID, "error", r.err)
			continue
		}
		opportunities = append(opportunities, c.toOpportunity(r.pool, r.stats, btcPrice))
	}
	if failures == len(sbtcPools) {
		return nil, fmt.Errorf("velar stats fetch failed for all %d sBTC pools", failures)
	}

	return opportunities, nil
}

func (c *VelarClient) toOpportunity(pool velarPool, stats velarPoolStats, btcPrice float64) models.YieldOpportunity {
	counter := pool.Token1Symbol
	if isSBTCAsset(pool.Token1Symbol, pool.Token1Contract) && !isSBTCAsset(pool.Token0Symbol, pool.Token0Contract) {
		counter = pool.Token0Symbol
	}

	feeAPY := tradingFeeAPY(stats.Fees24hUSD, pool.TVLUSD)
	rewardAPY := stats.RewardAPR
	estimated := false
	if rewardAPY <= 0 {
		rewardAPY = estimatedRewardAPY(pool.TVLUSD)
		estimated = true
	}
	apy := feeAPY + rewardAPY

	in := riskInput{
		TVLUSD:       pool.TVLUSD,
		Volume24hUSD: stats.Volume24hUSD,
		APY:          apy,
		VolatilePair: volatileCounterAsset(counter),
		CounterAsset: strings.ToUpper(counter),
	}
	riskLevel, _ := assessRisk(in)

	pairName := fmt.Sprintf("sBTC-%s", strings.ToUpper(counter))
	protoName := cases.Title(language.English).String(string(models.ProtocolVelar))

	return models.YieldOpportunity{
		Protocol:            models.ProtocolVelar,
		ProtocolType:        models.TypeLiquidityPool,
		PoolID:              pool.ID,
		PoolName:            pairName,
		APY:                 apy,
		APYBreakdown:        &models.APYBreakdown{Base: feeAPY, Rewards: rewardAPY, Estimated: estimated},
		TVLUSD:              pool.TVLUSD,
		TVLSBTC:             sbtcFromUSD(pool.TVLUSD, btcPrice),
		Volume24hUSD:        stats.Volume24hUSD,
		RiskLevel:           riskLevel,
		RiskFactors:         riskFactors(in),
		MinDepositSats:      velarMinDeposit,
		LockPeriodDays:      0,
		Fees:                models.FeeSchedule{Withdrawal: velarWithdrawFee},
		ImpermanentLossRisk: true,
		Audited:             true,
		ProtocolAgeDays:     protocolAgeDays(velarLaunchDate),
		ContractAddress:     pool.LPContract,
		Description:         fmt.Sprintf("%s liquidity pool on %s DEX", pairName, protoName),
		UpdatedAt:           time.Now().UnixMilli(),
	}
}

// HealthCheck pings the Velar API and reports up/down plus latency.
func (c *VelarClient) HealthCheck(ctx context.Context) HealthStatus {
	return c.http.ping(ctx, "/watcherapp/pool")
}

// protocolAgeDays computes the days elapsed since a protocol's mainnet launch.
func protocolAgeDays(launchDate string) int {
	launched, err := time.Parse("2006-01-02", launchDate)
	if err != nil {
		return 0
	}
	return int(time.Since(launched).Hours() / 24)
}
