package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bityield/yieldr/internal/cache"
	"github.com/bityield/yieldr/internal/models"
	"github.com/bityield/yieldr/internal/services"
)

// YieldHandler serves the read endpoints for aggregated yield data. Reads go
// through the cache with stale-while-revalidate; a live fetch happens only on
// a cold cache.
type YieldHandler struct {
	cache      *cache.Cache
	aggregator *services.Aggregator
	logger     *slog.Logger
}

func NewYieldHandler(c *cache.Cache, aggregator *services.Aggregator, logger *slog.Logger) *YieldHandler {
	return &YieldHandler{cache: c, aggregator: aggregator, logger: logger}
}

// loadSnapshot returns the current aggregate snapshot, serving stale data
// (with a background refresh) when the cache entry is past the stale
// threshold and computing synchronously on a miss.
func (h *YieldHandler) loadSnapshot(ctx context.Context) (*models.AggregatedYieldData, bool, error) {
	raw, stale, err := h.cache.GetWithStaleFallback(ctx, services.CacheKeyYields, func(ctx context.Context) (interface{}, error) {
		return h.aggregator.FetchAllOpportunities(ctx)
	})
	if err != nil {
		return nil, false, err
	}

	var data models.AggregatedYieldData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, err
	}
	return &data, stale, nil
}

// GetYields returns the aggregate snapshot. When any filter or sort query
// parameter is present the flattened opportunity list is filtered and sorted
// instead of returning the per-protocol breakdown.
func (h *YieldHandler) GetYields(c *gin.Context) {
	data, stale, err := h.loadSnapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load yield snapshot", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "yield data is currently unavailable",
		})
		return
	}

	opts, sortBy, order, filtering, err := parseYieldQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if !filtering {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "stale": stale})
		return
	}

	opportunities := services.FilterOpportunities(data.AllOpportunities(), opts)
	opportunities = services.SortOpportunities(opportunities, sortBy, order)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"opportunities": opportunities,
			"total":         len(opportunities),
			"updated_at":    data.UpdatedAt,
		},
		"stale": stale,
	})
}

// GetProtocolYields returns the slice of the snapshot belonging to one
// protocol.
func (h *YieldHandler) GetProtocolYields(c *gin.Context) {
	protocol := models.Protocol(strings.ToLower(c.Param("protocol")))
	if !protocol.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "unknown protocol: " + c.Param("protocol"),
		})
		return
	}

	ctx := c.Request.Context()
	if raw, ok := h.cache.Get(ctx, services.CacheKeyProtocol(protocol)); ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": json.RawMessage(raw)})
		return
	}

	// Cold per-protocol key: fall back to the aggregate snapshot.
	data, _, err := h.loadSnapshot(ctx)
	if err != nil {
		h.logger.Error("failed to load yield snapshot", "error", err, "protocol", protocol)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "yield data is currently unavailable",
		})
		return
	}
	for _, pd := range data.Protocols {
		if pd.Protocol == protocol && pd.Success {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": pd})
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"success": false,
		"error":   "no data available for protocol " + string(protocol),
	})
}

// parseYieldQuery maps the filter/sort query parameters onto FilterOptions.
// filtering reports whether any parameter was supplied at all.
func parseYieldQuery(c *gin.Context) (opts services.FilterOptions, sortBy, order string, filtering bool, err error) {
	parseFloat := func(name string, dst *float64) error {
		v := c.Query(name)
		if v == "" {
			return nil
		}
		filtering = true
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil || f < 0 {
			return errInvalidQuery(name, v)
		}
		*dst = f
		return nil
	}

	if err = parseFloat("min_apy", &opts.MinAPY); err != nil {
		return
	}
	if err = parseFloat("max_apy", &opts.MaxAPY); err != nil {
		return
	}
	if err = parseFloat("min_tvl", &opts.MinTVLUSD); err != nil {
		return
	}

	if v := c.Query("max_risk"); v != "" {
		filtering = true
		risk := models.RiskLevel(strings.ToLower(v))
		if risk.Ordinal() > models.RiskHigh.Ordinal() {
			err = errInvalidQuery("max_risk", v)
			return
		}
		opts.MaxRisk = risk
	}
	if v := c.Query("protocol"); v != "" {
		filtering = true
		for _, raw := range strings.Split(v, ",") {
			p := models.Protocol(strings.ToLower(strings.TrimSpace(raw)))
			if !p.IsValid() {
				err = errInvalidQuery("protocol", raw)
				return
			}
			opts.Protocols = append(opts.Protocols, p)
		}
	}
	if v := c.Query("exclude_il"); v != "" {
		filtering = true
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = errInvalidQuery("exclude_il", v)
			return
		}
		opts.ExcludeIL = b
	}
	if v := c.Query("max_lock_days"); v != "" {
		filtering = true
		days, perr := strconv.Atoi(v)
		if perr != nil || days < 0 {
			err = errInvalidQuery("max_lock_days", v)
			return
		}
		opts.MaxLockDays = &days
	}

	sortBy = c.DefaultQuery("sort_by", "apy")
	order = c.DefaultQuery("order", "desc")
	if c.Query("sort_by") != "" || c.Query("order") != "" {
		filtering = true
	}
	switch sortBy {
	case "apy", "tvl", "risk", "score":
	default:
		err = errInvalidQuery("sort_by", sortBy)
		return
	}
	switch order {
	case "asc", "desc":
	default:
		err = errInvalidQuery("order", order)
		return
	}
	return
}

type queryError struct{ param, value string }

func (e queryError) Error() string {
	return "invalid value " + strconv.Quote(e.value) + " for query parameter " + e.param
}

func errInvalidQuery(param, value string) error {
	return queryError{param: param, value: value}
}
