// Package autoscale implements the controller loop: on a cron tick and on an
// on-demand completion-count trigger, it samples, classifies, asks the
// recommendation engine for a Set, and applies the axes that are safe to
// apply without caller involvement (worker count, cleanup interval, pool
// ceiling). Advisory-only axes (timeout, priority bias, batch size, the
// per-worker assignment split) are only published to observers, since they
// have no single live default to mutate underneath in-flight Spawn calls.
//
// The periodic tick runs on github.com/robfig/cron/v3's "@every" schedule
// rather than a bare time.Ticker, since the cadence itself is something a
// recommendation can mutate at runtime.
package autoscale

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gotasklets/tasklets/internal/executor"
	"github.com/gotasklets/tasklets/internal/jobpool"
	"github.com/gotasklets/tasklets/internal/lifecycle"
	"github.com/gotasklets/tasklets/internal/metrics"
	"github.com/gotasklets/tasklets/internal/recommend"
	"github.com/gotasklets/tasklets/internal/sampler"
	"github.com/gotasklets/tasklets/internal/task"
)

// Config holds the controller's tunables.
type Config struct {
	// TickInterval is the periodic sampling cadence. Default 5s, matching
	// original_source's DEFAULT_ANALYSIS_INTERVAL_MS.
	TickInterval time.Duration
	// OnDemandEvery triggers an extra tick every N task completions, in
	// addition to the periodic schedule. Zero selects the default of 50; the
	// on-demand path cannot be switched off.
	OnDemandEvery uint64
	Strategy      recommend.Strategy
	// DefaultTimeoutMillis seeds the timeout axis's "current" baseline; it is
	// advisory only (see package doc).
	DefaultTimeoutMillis int64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.OnDemandEvery == 0 {
		c.OnDemandEvery = 50
	}
	if c.DefaultTimeoutMillis <= 0 {
		c.DefaultTimeoutMillis = 30000
	}
	return c
}

// Controller wires the sampler/classifier/recommend pipeline to the
// executor/lifecycle/jobpool it adjusts.
type Controller struct {
	log *slog.Logger
	cfg Config

	ex   *executor.Executor
	lc   *lifecycle.Manager
	pool *jobpool.Pool
	sp   *sampler.Sampler
	rec  *recommend.Engine
	mcol atomic.Pointer[metrics.Collector]

	cron    *cron.Cron
	entryID cron.EntryID

	completedCount atomic.Uint64

	tickMu  sync.Mutex
	ticking atomic.Bool

	mu        sync.Mutex
	observers []func(recommend.Set)
	lastSet   recommend.Set

	poolInitial int
	poolMax     int

	defaultTimeoutMillis atomic.Int64
}

// New builds a Controller. It registers a completion hook on ex to drive the
// on-demand trigger; call Start to begin the periodic schedule.
func New(log *slog.Logger, ex *executor.Executor, lc *lifecycle.Manager, pool *jobpool.Pool, sp *sampler.Sampler, cfg Config) *Controller {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	stats := pool.Stats()
	c := &Controller{
		log:         log,
		cfg:         cfg,
		ex:          ex,
		lc:          lc,
		pool:        pool,
		sp:          sp,
		rec:         recommend.New(),
		cron:        cron.New(),
		poolInitial: stats.TotalCreated,
		poolMax:     stats.Max,
	}
	c.rec.Strategy = cfg.Strategy
	c.defaultTimeoutMillis.Store(cfg.DefaultTimeoutMillis)

	ex.OnComplete(c.onTaskComplete)

	return c
}

// SetMetrics wires an optional Prometheus collector; nil disables mirroring.
func (c *Controller) SetMetrics(m *metrics.Collector) { c.mcol.Store(m) }

// Start schedules the periodic tick and begins the cron scheduler.
func (c *Controller) Start() error {
	spec := fmt.Sprintf("@every %s", c.cfg.TickInterval)
	id, err := c.cron.AddFunc(spec, c.tick)
	if err != nil {
		return fmt.Errorf("autoscale: schedule tick: %w", err)
	}
	c.entryID = id
	c.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (c *Controller) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// RegisterObserver adds fn to the set notified after every tick, including
// on-demand ones.
func (c *Controller) RegisterObserver(fn func(recommend.Set)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// LastRecommendations returns the most recently computed Set.
func (c *Controller) LastRecommendations() recommend.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSet
}

// SetDefaultTimeout updates the advisory timeout baseline the recommendation
// engine compares against.
func (c *Controller) SetDefaultTimeout(d time.Duration) {
	c.defaultTimeoutMillis.Store(int64(d / time.Millisecond))
}

func (c *Controller) onTaskComplete(t *task.Task) {
	if c.cfg.OnDemandEvery == 0 {
		return
	}
	n := c.completedCount.Add(1)
	if n%c.cfg.OnDemandEvery == 0 {
		go c.tick()
	}
}

// tick runs one sample->classify->recommend->apply pass. Overlapping ticks
// (a periodic tick racing an on-demand one) are collapsed: the second caller
// skips rather than queuing, since a tick a few hundred milliseconds stale is
// harmless for a controller operating on 5s cadence.
func (c *Controller) tick() {
	if !c.ticking.CompareAndSwap(false, true) {
		return
	}
	defer c.ticking.Store(false)

	cpuPercent, err := lifecycle.CPUPercent()
	if err != nil {
		c.log.Warn("autoscale: cpu read failed", "error", err)
	}

	workerCount := c.ex.WorkerCount()
	queueLength := c.ex.QueueLength()
	sample := c.sp.Sample(cpuPercent, queueLength, workerCount)

	var failureRate float64
	if total := sample.Completed + sample.Failed; total > 0 {
		failureRate = 100 * float64(sample.Failed) / float64(total)
	}

	c.mu.Lock()
	poolInitial, poolMax := c.poolInitial, c.poolMax
	c.mu.Unlock()

	cur := recommend.Current{
		WorkerCount:           workerCount,
		MaxWorkers:            c.ex.MaxWorkers(),
		TimeoutMillis:         c.defaultTimeoutMillis.Load(),
		CleanupIntervalMillis: int64(c.lc.CleanupInterval() / time.Millisecond),
		PoolInitial:           poolInitial,
		PoolMax:               poolMax,
		QueueLength:           queueLength,
		FailureRatePercent:    failureRate,
	}

	set := c.rec.Generate(sample, cur)
	c.apply(set)

	if m := c.mcol.Load(); m != nil {
		active := c.ex.Stats().Active
		memPercent := c.lc.Stats().SystemUsagePercent
		m.UpdateGauges(int(active), workerCount, queueLength, memPercent)
	}

	c.mu.Lock()
	c.lastSet = set
	observers := append([]func(recommend.Set){}, c.observers...)
	c.mu.Unlock()

	for _, obs := range observers {
		obs(set)
	}
}

// apply mutates the axes that have a single live default to adjust.
// Timeout/priority/batch-size/load-balance recommendations are advisory: the
// caller decides whether to fold them into its next Spawn call.
func (c *Controller) apply(set recommend.Set) {
	if set.WorkerCount.ShouldApply {
		if err := c.ex.SetWorkerCount(set.WorkerCount.Value); err != nil {
			c.log.Warn("autoscale: apply worker count failed", "target", set.WorkerCount.Value, "error", err)
		}
	}
	if set.CleanupIntervalMillis.ShouldApply {
		c.lc.SetCleanupInterval(time.Duration(set.CleanupIntervalMillis.Value) * time.Millisecond)
	}
	if set.PoolMax.ShouldApply {
		c.pool.Resize(set.PoolMax.Value)
		c.mu.Lock()
		c.poolMax = set.PoolMax.Value
		if set.PoolInitial.ShouldApply {
			c.poolInitial = set.PoolInitial.Value
		}
		c.mu.Unlock()
	}
}
