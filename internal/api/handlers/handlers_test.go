package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bityield/yieldr/internal/cache"
	"github.com/bityield/yieldr/internal/models"
	"github.com/bityield/yieldr/internal/protocols"
	"github.com/bityield/yieldr/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubClient struct {
	name models.Protocol
	opps []models.YieldOpportunity
	err  error
}

func (s *stubClient) Name() models.Protocol { return s.name }

func (s *stubClient) FetchYieldOpportunities(ctx context.Context) ([]models.YieldOpportunity, error) {
	return s.opps, s.err
}

func (s *stubClient) HealthCheck(ctx context.Context) protocols.HealthStatus {
	status := protocols.HealthStatus{Up: s.err == nil, LatencyMs: 7, CheckedAt: time.Now()}
	if s.err != nil {
		status.Error = s.err.Error()
	}
	return status
}

type stubOracle struct{ up bool }

func (o *stubOracle) BTCPriceUSD(ctx context.Context) (float64, error) {
	if !o.up {
		return 0, errors.New("oracle down")
	}
	return 65000, nil
}

func (o *stubOracle) HealthCheck(ctx context.Context) protocols.HealthStatus {
	return protocols.HealthStatus{Up: o.up, LatencyMs: 3, CheckedAt: time.Now()}
}

func testOpp(protocol models.Protocol, poolID string, apy, tvl float64, risk models.RiskLevel) models.YieldOpportunity {
	return models.YieldOpportunity{
		Protocol:     protocol,
		ProtocolType: models.TypeLiquidityPool,
		PoolID:       poolID,
		PoolName:     poolID,
		APY:          apy,
		TVLUSD:       tvl,
		RiskLevel:    risk,
		UpdatedAt:    time.Now().UnixMilli(),
	}
}

// testServer bundles the wired router plus the seams the tests poke at.
type testServer struct {
	router  *gin.Engine
	cache   *cache.Cache
	updater *services.Updater
}

func newTestServer(t *testing.T, oracle protocols.PriceOracle, clients ...protocols.Client) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logger := testLogger()
	c := cache.New(redisClient, "yieldr:", 5*time.Minute, 2*time.Minute, logger)
	aggregator := services.NewAggregator(clients, logger)
	updater := services.NewUpdater(aggregator, c, time.Minute, 1000, logger)

	yields := NewYieldHandler(c, aggregator, logger)
	recommendations := NewRecommendationHandler(services.NewRuleBasedRecommender(logger), yields, logger)
	cacheHandler := NewCacheHandler(c, logger)
	health := NewHealthHandler(c, clients, oracle, updater, "test", logger)

	router := gin.New()
	router.GET("/health", health.HealthCheck)
	v1 := router.Group("/api/v1")
	v1.GET("/yields", yields.GetYields)
	v1.GET("/yields/:protocol", yields.GetProtocolYields)
	v1.POST("/recommendations", recommendations.CreateRecommendation)
	v1.DELETE("/cache", cacheHandler.InvalidateCache)
	v1.GET("/cache/stats", cacheHandler.GetCacheStats)

	return &testServer{router: router, cache: c, updater: updater}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func defaultClients() []protocols.Client {
	return []protocols.Client{
		&stubClient{name: models.ProtocolVelar, opps: []models.YieldOpportunity{
			testOpp(models.ProtocolVelar, "sbtc-usda", 8, 20_000_000, models.RiskLow),
			testOpp(models.ProtocolVelar, "sbtc-meme", 60, 500_000, models.RiskHigh),
		}},
		&stubClient{name: models.ProtocolAlex, opps: []models.YieldOpportunity{
			testOpp(models.ProtocolAlex, "sbtc-farm", 15, 5_000_000, models.RiskMedium),
		}},
	}
}

func TestGetYieldsColdCacheFetchesLive(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	w := s.do(t, http.MethodGet, "/api/v1/yields", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                       `json:"success"`
		Data    models.AggregatedYieldData `json:"data"`
		Stale   bool                       `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.Stale)
	assert.Equal(t, 3, resp.Data.TotalOpportunities)
	assert.Len(t, resp.Data.Protocols, 2)
}

func TestGetYieldsServedFromCache(t *testing.T) {
	clients := defaultClients()
	s := newTestServer(t, &stubOracle{up: true}, clients...)
	require.NoError(t, s.updater.TriggerRefresh(context.Background()))

	// Break the vendors: a warm cache must keep serving.
	for _, c := range clients {
		c.(*stubClient).err = errors.New("vendor down")
	}

	w := s.do(t, http.MethodGet, "/api/v1/yields", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetYieldsUnavailable(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true},
		&stubClient{name: models.ProtocolVelar, err: errors.New("down")},
		&stubClient{name: models.ProtocolAlex, err: errors.New("down")},
	)

	w := s.do(t, http.MethodGet, "/api/v1/yields", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetYieldsFiltered(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	w := s.do(t, http.MethodGet, "/api/v1/yields?max_risk=medium&sort_by=apy&order=desc", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Opportunities []models.YieldOpportunity `json:"opportunities"`
			Total         int                       `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, "sbtc-farm", resp.Data.Opportunities[0].PoolID)
	assert.Equal(t, "sbtc-usda", resp.Data.Opportunities[1].PoolID)
}

func TestGetYieldsBadQuery(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	for _, path := range []string{
		"/api/v1/yields?min_apy=abc",
		"/api/v1/yields?max_risk=extreme",
		"/api/v1/yields?protocol=sushiswap",
		"/api/v1/yields?sort_by=volume",
		"/api/v1/yields?order=sideways",
	} {
		w := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %s", path)
	}
}

func TestGetProtocolYields(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)
	require.NoError(t, s.updater.TriggerRefresh(context.Background()))

	w := s.do(t, http.MethodGet, "/api/v1/yields/velar", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data models.ProtocolData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ProtocolVelar, resp.Data.Protocol)
	assert.Len(t, resp.Data.Opportunities, 2)
}

func TestGetProtocolYieldsUnknownProtocol(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	w := s.do(t, http.MethodGet, "/api/v1/yields/sushiswap", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRecommendation(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	w := s.do(t, http.MethodPost, "/api/v1/recommendations", gin.H{
		"amount_sats":    100_000_000,
		"risk_tolerance": "conservative",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data models.Recommendation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sbtc-usda", resp.Data.PoolID)
	assert.Equal(t, models.RiskLow, resp.Data.RiskLevel)
	assert.Equal(t, models.SourceRuleBased, resp.Data.Source)
	assert.NotEmpty(t, resp.Data.Disclaimers)
}

func TestCreateRecommendationValidation(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing amount", gin.H{"risk_tolerance": "moderate"}},
		{"zero amount", gin.H{"amount_sats": 0, "risk_tolerance": "moderate"}},
		{"negative amount", gin.H{"amount_sats": -5, "risk_tolerance": "moderate"}},
		{"unknown tolerance", gin.H{"amount_sats": 1000, "risk_tolerance": "yolo"}},
		{"bad preferred protocol", gin.H{"amount_sats": 1000, "risk_tolerance": "moderate", "preferred_protocols": []string{"sushiswap"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/recommendations", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateRecommendationNoData(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true},
		&stubClient{name: models.ProtocolVelar, err: errors.New("down")},
	)

	w := s.do(t, http.MethodPost, "/api/v1/recommendations", gin.H{
		"amount_sats":    1000,
		"risk_tolerance": "moderate",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateRecommendationNoEligiblePool(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true},
		&stubClient{name: models.ProtocolVelar, opps: []models.YieldOpportunity{
			testOpp(models.ProtocolVelar, "risky", 70, 100_000, models.RiskHigh),
		}},
	)

	w := s.do(t, http.MethodPost, "/api/v1/recommendations", gin.H{
		"amount_sats":    1000,
		"risk_tolerance": "conservative",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidateCache(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)
	require.NoError(t, s.updater.TriggerRefresh(context.Background()))

	w := s.do(t, http.MethodDelete, "/api/v1/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Greater(t, resp.Deleted, int64(0))

	_, ok := s.cache.Get(context.Background(), services.CacheKeyYields)
	assert.False(t, ok)
}

func TestInvalidateCacheWithPattern(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)
	require.NoError(t, s.updater.TriggerRefresh(context.Background()))

	w := s.do(t, http.MethodDelete, "/api/v1/cache?pattern=yields:protocol:*", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The aggregate key survives a scoped invalidation.
	_, ok := s.cache.Get(context.Background(), services.CacheKeyYields)
	assert.True(t, ok)
	_, ok = s.cache.Get(context.Background(), services.CacheKeyProtocol(models.ProtocolVelar))
	assert.False(t, ok)
}

func TestGetCacheStats(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	// One miss (cold read) then one hit.
	s.do(t, http.MethodGet, "/api/v1/yields", nil)
	s.do(t, http.MethodGet, "/api/v1/yields", nil)

	w := s.do(t, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Hits   int64   `json:"hits"`
			Misses int64   `json:"misses"`
			Sets   int64   `json:"sets"`
			Rate   float64 `json:"hit_rate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.Data.Hits, int64(1))
	assert.GreaterOrEqual(t, resp.Data.Misses, int64(1))
}

func TestHealthCheckHealthy(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: true}, defaultClients()...)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status     string                     `json:"status"`
		Components map[string]componentHealth `json:"components"`
		Uptime     string                     `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	for _, name := range []string{"redis", "oracle", "velar", "alex"} {
		assert.Contains(t, resp.Components, name)
	}
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthCheckDegraded(t *testing.T) {
	s := newTestServer(t, &stubOracle{up: false}, defaultClients()...)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp struct {
		Status     string                     `json:"status"`
		Components map[string]componentHealth `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["oracle"].Status)
}
