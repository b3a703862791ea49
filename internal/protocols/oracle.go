package protocols

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bityield/yieldr/internal/config"
)

// PriceOracle supplies the BTC/USD price used to express pool TVL in sBTC.
type PriceOracle interface {
	BTCPriceUSD(ctx context.Context) (float64, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// CoinGeckoOracle reads the BTC spot price from a CoinGecko-compatible
// simple-price endpoint.
type CoinGeckoOracle struct {
	http   *httpClient
	logger *slog.Logger
}

func NewCoinGeckoOracle(cfg config.OracleConfig, logger *slog.Logger) *CoinGeckoOracle {
	return &CoinGeckoOracle{
		http:   newHTTPClient(cfg.BaseURL, cfg.Timeout),
		logger: logger,
	}
}

type simplePriceResponse struct {
	Bitcoin struct {
		USD float64 `json:"usd"`
	} `json:"bitcoin"`
}

func (o *CoinGeckoOracle) BTCPriceUSD(ctx context.Context) (float64, error) {
	var resp simplePriceResponse
	if err := o.http.getJSON(ctx, "/simple/price?ids=bitcoin&vs_currencies=usd", &resp); err != nil {
		return 0, fmt.Errorf("price oracle request failed: %w", err)
	}
	if resp.Bitcoin.USD <= 0 {
		return 0, fmt.Errorf("price oracle returned non-positive BTC price %.2f", resp.Bitcoin.USD)
	}
	return resp.Bitcoin.USD, nil
}

func (o *CoinGeckoOracle) HealthCheck(ctx context.Context) HealthStatus {
	return o.http.ping(ctx, "/ping")
}

// sbtcFromUSD converts a USD TVL figure using the given BTC price. A zero
// price (oracle unavailable) degrades the sBTC figure to zero rather than
// fabricating one.
func sbtcFromUSD(tvlUSD, btcPriceUSD float64) float64 {
	if btcPriceUSD <= 0 || tvlUSD <= 0 {
		return 0
	}
	return tvlUSD / btcPriceUSD
}

// fetchBTCPrice resolves the oracle price once per fetch cycle, degrading to
// zero on failure.
func fetchBTCPrice(ctx context.Context, oracle PriceOracle, logger *slog.Logger) float64 {
	if oracle == nil {
		return 0
	}
	price, err := oracle.BTCPriceUSD(ctx)
	if err != nil {
		logger.Warn("BTC price unavailable, reporting zero sBTC TVL", "error", err)
		return 0
	}
	return price
}
