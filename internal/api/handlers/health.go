package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bityield/yieldr/internal/cache"
	"github.com/bityield/yieldr/internal/protocols"
	"github.com/bityield/yieldr/internal/services"
)

var startTime = time.Now()

// HealthHandler aggregates sub-component health: Redis, each vendor API, the
// price oracle and the background updater.
type HealthHandler struct {
	cache   *cache.Cache
	clients []protocols.Client
	oracle  protocols.PriceOracle
	updater *services.Updater
	version string
	logger  *slog.Logger
}

func NewHealthHandler(c *cache.Cache, clients []protocols.Client, oracle protocols.PriceOracle, updater *services.Updater, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cache:   c,
		clients: clients,
		oracle:  oracle,
		updater: updater,
		version: version,
		logger:  logger,
	}
}

type componentHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck probes every dependency concurrently and reports degraded with
// a 503 when any is down.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	var mu sync.Mutex
	components := make(map[string]componentHealth)
	record := func(name string, ch componentHealth) {
		mu.Lock()
		components[name] = ch
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2 + len(h.clients))

	go func() {
		defer wg.Done()
		up, latency := h.cache.HealthCheck(ctx)
		ch := componentHealth{Status: "healthy", LatencyMs: latency.Milliseconds()}
		if !up {
			ch.Status = "unhealthy"
			ch.Error = "redis unreachable"
		}
		record("redis", ch)
	}()

	go func() {
		defer wg.Done()
		record("oracle", fromHealthStatus(h.oracle.HealthCheck(ctx)))
	}()

	for _, client := range h.clients {
		go func(client protocols.Client) {
			defer wg.Done()
			record(string(client.Name()), fromHealthStatus(client.HealthCheck(ctx)))
		}(client)
	}
	wg.Wait()

	status := "healthy"
	code := http.StatusOK
	for _, ch := range components {
		if ch.Status != "healthy" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    h.version,
		"uptime":     time.Since(startTime).String(),
		"components": components,
		"updater":    h.updater.Stats(),
		"resources":  resourceStats(c),
	})
}

func fromHealthStatus(s protocols.HealthStatus) componentHealth {
	ch := componentHealth{Status: "healthy", LatencyMs: s.LatencyMs}
	if !s.Up {
		ch.Status = "unhealthy"
		ch.Error = s.Error
	}
	return ch
}

// resourceStats reports host memory and CPU usage. Probe failures leave the
// field out rather than failing the health check.
func resourceStats(c *gin.Context) gin.H {
	stats := gin.H{}
	ctx := c.Request.Context()

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["memory_used_percent"] = memInfo.UsedPercent
	}
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		stats["cpu_percent"] = cpuPercent[0]
	}
	return stats
}
