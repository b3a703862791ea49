package protocols

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bityield/yieldr/internal/config"
	"github.com/bityield/yieldr/internal/models"
)

const (
	alexLaunchDate  = "2022-01-15"
	alexMinDeposit  = 50_000 // sats
	alexPerformance = 5.0    // percent of farm rewards
)

// AlexClient fetches sBTC pools and farms from the ALEX Lab API.
type AlexClient struct {
	http   *httpClient
	oracle PriceOracle
	logger *slog.Logger
}

func NewAlexClient(cfg config.ProtocolsConfig, oracle PriceOracle, logger *slog.Logger) *AlexClient {
	return &AlexClient{
		http:   newHTTPClient(cfg.AlexBaseURL, cfg.Timeout),
		oracle: oracle,
		logger: logger.With("protocol", string(models.ProtocolAlex)),
	}
}

func (c *AlexClient) Name() models.Protocol {
	return models.ProtocolAlex
}

type alexPoolsResponse struct {
	Data []alexPool `json:"data"`
}

type alexPool struct {
	PoolID         int     `json:"pool_id"`
	TokenXSymbol   string  `json:"token_x_symbol"`
	TokenYSymbol   string  `json:"token_y_symbol"`
	TokenXContract string  `json:"token_x"`
	TokenYContract string  `json:"token_y"`
	TVLUSD         float64 `json:"tvl_usd"`
	LockPeriodDays int     `json:"lock_period_days"`
	Farming        bool    `json:"farming"`
}

type alexStatsResponse struct {
	Data []alexPoolStat `json:"data"`
}

type alexPoolStat struct {
	PoolID       int     `json:"pool_id"`
	Fees24hUSD   float64 `json:"fees_24h_usd"`
	Volume24hUSD float64 `json:"volume_24h_usd"`
	RewardAPR    float64 `json:"reward_apr"`
}

// FetchYieldOpportunities pulls the pool listing and the pool-stats feed
// concurrently; both are required, so either endpoint failing is a total
// failure. A pool missing from the stats feed is logged and omitted.
func (c *AlexClient) FetchYieldOpportunities(ctx context.Context) ([]models.YieldOpportunity, error) {
	var listing alexPoolsResponse
	var stats alexStatsResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.http.getJSON(gctx, "/v1/public/pools", &listing); err != nil {
			return fmt.Errorf("alex pool listing failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.http.getJSON(gctx, "/v1/public/pool-stats", &stats); err != nil {
			return fmt.Errorf("alex pool stats failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	statsByPool := make(map[int]alexPoolStat, len(stats.Data))
	for _, s := range stats.Data {
		statsByPool[s.PoolID] = s
	}

	btcPrice := fetchBTCPrice(ctx, c.oracle, c.logger)

	var opportunities []models.YieldOpportunity
	for _, p := range listing.Data {
		if !isSBTCAsset(p.TokenXSymbol, p.TokenXContract) && !isSBTCAsset(p.TokenYSymbol, p.TokenYContract) {
			continue
		}
		stat, ok := statsByPool[p.PoolID]
		if !ok {
			c.logger.Warn("Skipping ALEX pool, no stats reported", "pool", p.PoolID)
			continue
		}
		opportunities = append(opportunities, c.toOpportunity(p, stat, btcPrice))
	}

	return opportunities, nil
}

func (c *AlexClient) toOpportunity(pool alexPool, stat alexPoolStat, btcPrice float64) models.YieldOpportunity {
	counter := pool.TokenYSymbol
	if isSBTCAsset(pool.TokenYSymbol, pool.TokenYContract) && !isSBTCAsset(pool.TokenXSymbol, pool.TokenXContract) {
		counter = pool.TokenXSymbol
	}

	feeAPY := tradingFeeAPY(stat.Fees24hUSD, pool.TVLUSD)
	rewardAPY := stat.RewardAPR
	estimated := false
	if rewardAPY <= 0 {
		rewardAPY = estimatedRewardAPY(pool.TVLUSD)
		estimated = true
	}
	apy := feeAPY + rewardAPY

	in := riskInput{
		TVLUSD:       pool.TVLUSD,
		Volume24hUSD: stat.Volume24hUSD,
		APY:          apy,
		VolatilePair: volatileCounterAsset(counter),
		CounterAsset: strings.ToUpper(counter),
	}
	riskLevel, _ := assessRisk(in)

	poolType := models.TypeLiquidityPool
	fees := models.FeeSchedule{}
	if pool.Farming {
		poolType = models.TypeYieldFarming
		fees.Performance = alexPerformance
	}

	pairName := fmt.Sprintf("sBTC-%s", strings.ToUpper(counter))
	protoName := strings.ToUpper(string(models.ProtocolAlex))
	kind := cases.Title(language.English).String(strings.ReplaceAll(string(poolType), "_", " "))

	return models.YieldOpportunity{
		Protocol:            models.ProtocolAlex,
		ProtocolType:        poolType,
		PoolID:              strconv.Itoa(pool.PoolID),
		PoolName:            pairName,
		APY:                 apy,
		APYBreakdown:        &models.APYBreakdown{Base: feeAPY, Rewards: rewardAPY, Estimated: estimated},
		TVLUSD:              pool.TVLUSD,
		TVLSBTC:             sbtcFromUSD(pool.TVLUSD, btcPrice),
		Volume24hUSD:        stat.Volume24hUSD,
		RiskLevel:           riskLevel,
		RiskFactors:         riskFactors(in),
		MinDepositSats:      alexMinDeposit,
		LockPeriodDays:      pool.LockPeriodDays,
		Fees:                fees,
		ImpermanentLossRisk: true,
		Audited:             true,
		ProtocolAgeDays:     protocolAgeDays(alexLaunchDate),
		ContractAddress:     pool.TokenXContract,
		Description:         fmt.Sprintf("%s %s on %s", pairName, kind, protoName),
		UpdatedAt:           time.Now().UnixMilli(),
	}
}

// HealthCheck pings the ALEX API and reports up/down plus latency.
func (c *AlexClient) HealthCheck(ctx context.Context) HealthStatus {
	return c.http.ping(ctx, "/v1/public/pools")
}
