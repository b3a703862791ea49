package protocols

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bityield/yieldr/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoOracleBTCPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/simple/price" {
			_, _ = w.Write([]byte(`{"bitcoin":{"usd":97500.25}}`))
			return
		}
		_, _ = w.Write([]byte(`{"gecko_says":"(V3) To the Moon!"}`))
	}))
	t.Cleanup(srv.Close)

	oracle := NewCoinGeckoOracle(config.OracleConfig{BaseURL: srv.URL, Timeout: 5}, testLogger())

	price, err := oracle.BTCPriceUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 97500.25, price, 1e-9)

	status := oracle.HealthCheck(context.Background())
	assert.True(t, status.Up)
}

func TestCoinGeckoOracleRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":0}}`))
	}))
	t.Cleanup(srv.Close)

	oracle := NewCoinGeckoOracle(config.OracleConfig{BaseURL: srv.URL, Timeout: 5}, testLogger())
	_, err := oracle.BTCPriceUSD(context.Background())
	assert.Error(t, err)
}

func TestSBTCFromUSD(t *testing.T) {
	assert.InDelta(t, 2.0, sbtcFromUSD(200_000, 100_000), 1e-9)
	assert.Zero(t, sbtcFromUSD(200_000, 0), "unknown price degrades to zero")
	assert.Zero(t, sbtcFromUSD(0, 100_000))
}
