// Package tasklets is an embeddable, in-process task execution engine: a
// worker-pool executor wrapped in a self-tuning controller that samples its
// own throughput/utilization, classifies the current workload, and adjusts
// worker count, cleanup cadence, and pool sizing without operator
// intervention.
//
// Engine owns everything and exposes a small surface, generalized from a
// crash-recoverable distributed job queue design to a single-process tasklet
// engine with no persistence (see DESIGN.md for the Non-goal-driven drops).
package tasklets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/gotasklets/tasklets/internal/autoscale"
	"github.com/gotasklets/tasklets/internal/config"
	"github.com/gotasklets/tasklets/internal/executor"
	"github.com/gotasklets/tasklets/internal/jobpool"
	"github.com/gotasklets/tasklets/internal/lifecycle"
	"github.com/gotasklets/tasklets/internal/metrics"
	"github.com/gotasklets/tasklets/internal/recommend"
	"github.com/gotasklets/tasklets/internal/sampler"
	"github.com/gotasklets/tasklets/internal/stats"
	"github.com/gotasklets/tasklets/internal/task"
)

// TaskID identifies a submitted tasklet.
type TaskID = task.ID

// Config is the engine's full configuration; see internal/config for the
// YAML shape and defaults.
type Config = config.Config

// DefaultConfig returns the built-in configuration (4 workers, 85% memory
// ceiling, autoscaling enabled on a 5s tick).
func DefaultConfig() Config { return config.Default() }

// SystemInfo reports process/hardware facts the caller may want to log or
// surface on a status page.
type SystemInfo struct {
	GOOS             string
	GOARCH           string
	NumCPU           int
	MaxWorkers       int
	StartedAt        time.Time
	Uptime           time.Duration
}

// Engine is the top-level facade wiring the task registry, executor,
// lifecycle manager, sampler, classifier, and recommendation controller
// together. The zero value is not usable; construct with New.
type Engine struct {
	log      *slog.Logger
	levelVar *slog.LevelVar

	cfg Config

	pool *jobpool.Pool
	sc   *stats.Collector
	lc   *lifecycle.Manager
	ex   *executor.Executor
	sp   *sampler.Sampler
	ctrl *autoscale.Controller

	mcol       *metrics.Collector
	metricsCtx context.Context
	metricsCancel context.CancelFunc

	startedAt time.Time
}

// New builds and starts an Engine from cfg: spins up the worker pool, the
// lifecycle cleanup loop, and (if enabled) the autoscale controller and the
// Prometheus metrics server.
func New(cfg Config) (*Engine, error) {
	levelVar := new(slog.LevelVar)
	if err := applyLevel(levelVar, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("tasklets: %w", err)
	}
	log := newLogger(levelVar, cfg.Log.Format)

	if cfg.Executor.WorkerCount < 1 {
		return nil, fmt.Errorf("tasklets: %w: executor.worker_count must be >= 1", task.ErrConfigurationInvalid)
	}

	var mcol *metrics.Collector
	var metricsCtx context.Context
	var metricsCancel context.CancelFunc
	if cfg.Metrics.Enabled {
		mcol = metrics.NewCollector()
		metricsCtx, metricsCancel = context.WithCancel(context.Background())
	}

	pool := jobpool.New(cfg.Lifecycle.PoolInitial, cfg.Lifecycle.PoolMax)
	sc := stats.New(cfg.Executor.WorkerCount)
	lc := lifecycle.New(log, pool, cfg.Lifecycle.MemoryLimitPercent, cfg.Lifecycle.CleanupInterval)
	lc.SetMetrics(mcol)
	lc.Start()

	maxWorkers := cfg.Executor.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = executor.MaxWorkersFor(runtime.NumCPU())
	}
	ex := executor.New(log, lc, sc, cfg.Executor.BufferSize, maxWorkers)
	ex.SetMetrics(mcol)
	if err := ex.Start(cfg.Executor.WorkerCount); err != nil {
		lc.Stop()
		return nil, fmt.Errorf("tasklets: %w", err)
	}

	sp := sampler.New(sc, lc)
	ex.OnComplete(func(t *task.Task) {
		if d, ok := t.ExecutionDuration(); ok {
			sp.RecordTaskTiming(float64(d/time.Microsecond)/1000, t.Status() == task.Completed)
		}
	})

	ctrl := autoscale.New(log, ex, lc, pool, sp, autoscale.Config{
		TickInterval:         cfg.Autoscale.TickInterval,
		OnDemandEvery:        cfg.Autoscale.OnDemandEvery,
		Strategy:             cfg.RecommendStrategy(),
		DefaultTimeoutMillis: cfg.Executor.DefaultTimeoutMillis,
	})
	ctrl.SetMetrics(mcol)
	if cfg.Autoscale.Enabled {
		if err := ctrl.Start(); err != nil {
			ex.Shutdown(context.Background())
			lc.Stop()
			return nil, fmt.Errorf("tasklets: %w", err)
		}
	}

	e := &Engine{
		log:           log,
		levelVar:      levelVar,
		cfg:           cfg,
		pool:          pool,
		sc:            sc,
		lc:            lc,
		ex:            ex,
		sp:            sp,
		ctrl:          ctrl,
		mcol:          mcol,
		metricsCtx:    metricsCtx,
		metricsCancel: metricsCancel,
		startedAt:     time.Now(),
	}

	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			if err := e.mcol.StartServer(e.metricsCtx, addr); err != nil {
				log.Warn("tasklets: metrics server stopped", "error", err)
			}
		}()
	}

	return e, nil
}

func newLogger(levelVar *slog.LevelVar, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// traceLevel is one step below slog's Debug, since slog has no native trace
// level.
const traceLevel = slog.LevelDebug - 4

func applyLevel(v *slog.LevelVar, level string) error {
	switch level {
	case "", "info":
		v.Set(slog.LevelInfo)
	case "debug":
		v.Set(slog.LevelDebug)
	case "trace":
		v.Set(traceLevel)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	case "off":
		v.Set(slog.LevelError + 100)
	default:
		return fmt.Errorf("%w: unknown log level %q", task.ErrConfigurationInvalid, level)
	}
	return nil
}

// Submit enqueues fn for execution on the next available worker, using the
// engine's configured default timeout and priority 0.
func (e *Engine) Submit(fn func(context.Context) (string, error)) (TaskID, error) {
	return e.ex.Spawn(task.Closure(fn), 0, time.Duration(e.cfg.Executor.DefaultTimeoutMillis)*time.Millisecond)
}

// SubmitBatch submits n closures produced by factory, returning their ids in
// submission order. Stops at the first admission/capacity failure.
func (e *Engine) SubmitBatch(n int, factory func(i int) func(context.Context) (string, error)) ([]TaskID, error) {
	return e.ex.SpawnBatch(n, func(i int) task.Closure { return task.Closure(factory(i)) }, 0,
		time.Duration(e.cfg.Executor.DefaultTimeoutMillis)*time.Millisecond)
}

// Cancel flips a still-pending task to Cancelled. Returns false if the task
// is unknown or already past Pending.
func (e *Engine) Cancel(id TaskID) bool { return e.ex.Cancel(id) }

// Join blocks until id reaches a terminal state or ctx is done.
func (e *Engine) Join(ctx context.Context, id TaskID) error { return e.ex.Join(ctx, id) }

// JoinAll blocks until every task registered at call entry reaches a
// terminal state.
func (e *Engine) JoinAll(ctx context.Context) error { return e.ex.JoinAll(ctx) }

// JoinBatch blocks until every listed id reaches a terminal state.
func (e *Engine) JoinBatch(ctx context.Context, ids []TaskID) error { return e.ex.JoinBatch(ctx, ids) }

// Result returns the captured result string for id; empty if id is unknown
// or the task failed.
func (e *Engine) Result(id TaskID) (string, error) {
	r, err := e.ex.Result(id)
	if err != nil {
		return "", err
	}
	return r, nil
}

// HasError reports whether id's task ended in a failure state. Unknown ids
// report false.
func (e *Engine) HasError(id TaskID) bool {
	v, _ := e.ex.HasError(id)
	return v
}

// Error returns id's captured error message, or "" if it has none.
func (e *Engine) Error(id TaskID) string {
	v, _ := e.ex.Error(id)
	return v
}

// IsFinished reports whether id's task has reached a terminal state.
// Unknown ids report false.
func (e *Engine) IsFinished(id TaskID) bool {
	v, _ := e.ex.IsFinished(id)
	return v
}

// SetWorkerCount adjusts the live worker count within [1, MaxWorkers].
func (e *Engine) SetWorkerCount(n int) error { return e.ex.SetWorkerCount(n) }

// WorkerCount returns the current live worker count.
func (e *Engine) WorkerCount() int { return e.ex.WorkerCount() }

// SetMemoryLimitPercent updates the admission gate's system-memory ceiling.
func (e *Engine) SetMemoryLimitPercent(p float64) error {
	if p <= 0 || p > 100 {
		return fmt.Errorf("%w: memory limit percent must be in (0, 100]", task.ErrConfigurationInvalid)
	}
	e.lc.SetMemoryLimitPercent(p)
	return nil
}

// SetCleanupInterval updates the lifecycle manager's cleanup tick cadence.
func (e *Engine) SetCleanupInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: cleanup interval must be positive", task.ErrConfigurationInvalid)
	}
	e.lc.SetCleanupInterval(d)
	return nil
}

// SetLogLevel changes the engine's log verbosity at runtime: off, error,
// warn, info, debug, or trace.
func (e *Engine) SetLogLevel(level string) error { return applyLevel(e.levelVar, level) }

// RegisterRecommendationObserver registers fn to be called with every
// recommendation set the controller computes, including on-demand ticks.
func (e *Engine) RegisterRecommendationObserver(fn func(recommend.Set)) {
	e.ctrl.RegisterObserver(fn)
}

// Stats returns the executor's live statistics snapshot.
func (e *Engine) Stats() stats.Snapshot { return e.ex.Stats() }

// MemoryStats returns the lifecycle manager's memory/registry snapshot.
func (e *Engine) MemoryStats() lifecycle.MemoryStats { return e.lc.Stats() }

// MetricsHistory returns a copy of the bounded metrics-sample history ring.
func (e *Engine) MetricsHistory() []sampler.Sample { return e.sp.History() }

// Recommendations returns the most recently computed recommendation set.
func (e *Engine) Recommendations() recommend.Set { return e.ctrl.LastRecommendations() }

// SystemInfo reports hardware/process facts.
func (e *Engine) SystemInfo() SystemInfo {
	return SystemInfo{
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		MaxWorkers: e.ex.MaxWorkers(),
		StartedAt:  e.startedAt,
		Uptime:     time.Since(e.startedAt),
	}
}

// Shutdown stops the autoscale controller, the lifecycle cleanup loop, and
// the metrics server, then waits for in-flight tasks to drain on the
// executor or ctx to expire, whichever comes first.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cfg.Autoscale.Enabled {
		e.ctrl.Stop()
	}
	if e.metricsCancel != nil {
		e.metricsCancel()
	}
	e.lc.Stop()
	return e.ex.Shutdown(ctx)
}
