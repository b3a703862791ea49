package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bityield/yieldr/internal/cache"
	"github.com/bityield/yieldr/internal/models"
)

// Cache keys the updater writes and the API reads.
const (
	CacheKeyYields = "yields:all"
)

// CacheKeyProtocol is the per-protocol slice of the aggregate snapshot.
func CacheKeyProtocol(p models.Protocol) string {
	return fmt.Sprintf("yields:protocol:%s", p)
}

// UpdaterStats is a point-in-time snapshot of the updater's counters.
type UpdaterStats struct {
	Running             bool       `json:"running"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	TotalRuns           int64      `json:"total_runs"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
}

// Updater refreshes the yield cache on a fixed schedule. A single-flight
// guard makes overlapping triggers no-ops, so a slow vendor cannot stack
// refresh cycles.
type Updater struct {
	aggregator *Aggregator
	cache      *cache.Cache
	interval   time.Duration
	maxAPY     float64
	logger     *slog.Logger

	cron    *cron.Cron
	running atomic.Bool

	totalRuns           atomic.Int64
	consecutiveFailures atomic.Int64
	lastRunAt           atomic.Pointer[time.Time]
	lastSuccessAt       atomic.Pointer[time.Time]
	lastError           atomic.Pointer[string]
}

func NewUpdater(aggregator *Aggregator, c *cache.Cache, interval time.Duration, maxAPY float64, logger *slog.Logger) *Updater {
	return &Updater{
		aggregator: aggregator,
		cache:      c,
		interval:   interval,
		maxAPY:     maxAPY,
		logger:     logger,
	}
}

// Start schedules the periodic refresh and runs one refresh immediately so
// the cache is warm before the first tick.
func (u *Updater) Start(ctx context.Context) error {
	if u.cron != nil {
		return fmt.Errorf("updater already started")
	}

	u.cron = cron.New()
	schedule := fmt.Sprintf("@every %s", u.interval)
	if _, err := u.cron.AddFunc(schedule, func() {
		if err := u.TriggerRefresh(ctx); err != nil {
			u.logger.Error("scheduled refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule refresh job: %w", err)
	}

	u.cron.Start()
	u.logger.Info("updater started", "interval", u.interval.String())

	if err := u.TriggerRefresh(ctx); err != nil {
		u.logger.Error("initial refresh failed", "error", err)
	}
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (u *Updater) Stop() {
	if u.cron == nil {
		return
	}
	<-u.cron.Stop().Done()
	u.logger.Info("updater stopped")
}

// TriggerRefresh runs one refresh cycle now. If a cycle is already in
// flight the call is a no-op.
func (u *Updater) TriggerRefresh(ctx context.Context) error {
	if !u.running.CompareAndSwap(false, true) {
		u.logger.Debug("refresh already in progress, skipping")
		return nil
	}
	defer u.running.Store(false)

	now := time.Now()
	u.lastRunAt.Store(&now)
	u.totalRuns.Add(1)

	err := u.refresh(ctx)
	if err != nil {
		u.consecutiveFailures.Add(1)
		msg := err.Error()
		u.lastError.Store(&msg)
		u.logger.Error("refresh failed",
			"error", err,
			"consecutive_failures", u.consecutiveFailures.Load())
		return err
	}

	done := time.Now()
	u.lastSuccessAt.Store(&done)
	u.consecutiveFailures.Store(0)
	u.lastError.Store(nil)
	return nil
}

func (u *Updater) refresh(ctx context.Context) error {
	start := time.Now()

	data, err := u.aggregator.FetchAllOpportunities(ctx)
	if err != nil {
		return fmt.Errorf("fetch opportunities: %w", err)
	}
	if err := u.sanityCheck(data); err != nil {
		return err
	}

	if ok := u.cache.Set(ctx, CacheKeyYields, data); !ok {
		return fmt.Errorf("write aggregate cache key")
	}
	for _, pd := range data.Protocols {
		if !pd.Success {
			continue
		}
		u.cache.Set(ctx, CacheKeyProtocol(pd.Protocol), pd)
	}

	u.logger.Info("yield data refreshed",
		"opportunities", data.TotalOpportunities,
		"total_tvl_usd", data.TotalTVLUSD,
		"failed_protocols", data.FailedProtocols(),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// sanityCheck rejects snapshots that would poison the cache and flags
// implausible APYs without rejecting them.
func (u *Updater) sanityCheck(data *models.AggregatedYieldData) error {
	if len(data.FailedProtocols()) == len(data.Protocols) {
		return fmt.Errorf("all protocols failed: %v", data.FailedProtocols())
	}
	if data.TotalOpportunities == 0 {
		return fmt.Errorf("refresh produced zero opportunities")
	}
	for _, o := range data.AllOpportunities() {
		if o.APY < 0 || o.APY > u.maxAPY {
			u.logger.Warn("implausible apy in snapshot",
				"protocol", o.Protocol,
				"pool_id", o.PoolID,
				"apy", o.APY)
		}
	}
	return nil
}

// Stats returns the updater's counters for the health endpoint.
func (u *Updater) Stats() UpdaterStats {
	s := UpdaterStats{
		Running:             u.running.Load(),
		TotalRuns:           u.totalRuns.Load(),
		ConsecutiveFailures: u.consecutiveFailures.Load(),
		LastRunAt:           u.lastRunAt.Load(),
		LastSuccessAt:       u.lastSuccessAt.Load(),
	}
	if msg := u.lastError.Load(); msg != nil {
		s.LastError = *msg
	}
	return s
}
