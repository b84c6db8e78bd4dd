// Package recommend turns a metrics sample into target worker count,
// timeout, batch size, priority bias, pool sizing, cleanup interval, and
// (when imbalanced) a per-worker task assignment split.
//
// Where a confidence value or magnitude-scaling detail has no single
// obviously-correct number, this package picks a concrete one and records
// the choice in DESIGN.md rather than guessing at upstream intent.
package recommend

import (
	"math"

	"github.com/gotasklets/tasklets/internal/classifier"
	"github.com/gotasklets/tasklets/internal/sampler"
)

// Strategy modulates adjustment magnitudes without changing sign or
// confidence.
type Strategy int

const (
	Moderate Strategy = iota
	Conservative
	Aggressive
)

func (s Strategy) multiplier() float64 {
	switch s {
	case Conservative:
		return 0.5
	case Aggressive:
		return 1.5
	default:
		return 1.0
	}
}

// AxisInt, AxisInt64 and AxisFloat each carry one proposed value with its
// apply flag and confidence.
type AxisInt struct {
	Value       int
	ShouldApply bool
	Confidence  float64
}

type AxisInt64 struct {
	Value       int64
	ShouldApply bool
	Confidence  float64
}

type AxisFloat struct {
	Value       float64
	ShouldApply bool
	Confidence  float64
}

// Set is the full recommendation bundle returned by Generate.
type Set struct {
	WorkerCount           AxisInt
	MemoryLimitPercent    AxisFloat
	TimeoutMillis         AxisInt64
	PriorityBias          AxisInt
	BatchSize             AxisInt
	PoolInitial           AxisInt
	PoolMax               AxisInt
	CleanupIntervalMillis AxisInt64
	WorkerAssignments     []int
	OverallConfidence     float64
}

// Current is the executor/lifecycle configuration the engine adjusts
// relative to.
type Current struct {
	WorkerCount           int
	MaxWorkers            int
	TimeoutMillis         int64
	CleanupIntervalMillis int64
	PoolInitial           int
	PoolMax               int
	QueueLength           int
	FailureRatePercent    float64
}

// Engine holds the mutable strategy knob.
type Engine struct {
	Strategy Strategy
}

func New() *Engine { return &Engine{Strategy: Moderate} }

// Generate produces a Set from one metrics sample and the current config.
func (e *Engine) Generate(s sampler.Sample, cur Current) Set {
	mult := e.Strategy.multiplier()

	workers := e.workerScaling(s, cur, mult)
	timeout := e.timeoutAdjustment(s, cur)
	priority := e.priorityBias(s, cur, mult)
	batch := e.batching(s, cur)
	poolInitial, poolMax := e.poolSizing(s, cur)
	cleanup := e.cleanupInterval(s, cur, mult)
	loadBalance := e.loadBalance(s, cur)

	set := Set{
		WorkerCount:           workers,
		MemoryLimitPercent:    AxisFloat{Value: 0, ShouldApply: false},
		TimeoutMillis:         timeout,
		PriorityBias:          priority,
		BatchSize:             batch,
		PoolInitial:           poolInitial,
		PoolMax:               poolMax,
		CleanupIntervalMillis: cleanup,
		WorkerAssignments:     loadBalance.assignments,
	}

	var sum float64
	var n int
	for _, applied := range []struct {
		should bool
		conf   float64
	}{
		{workers.ShouldApply, workers.Confidence},
		{timeout.ShouldApply, timeout.Confidence},
		{priority.ShouldApply, priority.Confidence},
		{batch.ShouldApply, batch.Confidence},
		{poolInitial.ShouldApply, poolInitial.Confidence},
		{cleanup.ShouldApply, cleanup.Confidence},
		{loadBalance.shouldApply, loadBalance.confidence},
	} {
		if applied.should {
			sum += applied.conf
			n++
		}
	}
	if n > 0 {
		set.OverallConfidence = sum / float64(n)
	}

	return set
}

func (e *Engine) workerScaling(s sampler.Sample, cur Current, mult float64) AxisInt {
	switch {
	case s.WorkerUtilization > 90 && cur.WorkerCount < cur.MaxWorkers:
		step := 1.0
		if s.Pattern == classifier.IoIntensive {
			step *= 2
		}
		if s.Pattern == classifier.CpuIntensive {
			step += 1
		}
		step *= mult
		n := cur.WorkerCount + roundStep(step)
		if n > cur.MaxWorkers {
			n = cur.MaxWorkers
		}
		if n <= cur.WorkerCount {
			n = cur.WorkerCount + 1
		}
		return AxisInt{Value: n, ShouldApply: true, Confidence: 0.8}
	case s.WorkerUtilization < 30 && cur.WorkerCount > 1:
		step := 1.0
		if s.Pattern == classifier.MemoryIntensive {
			step *= 2
		}
		step *= mult
		n := cur.WorkerCount - roundStep(step)
		if n < 1 {
			n = 1
		}
		if n >= cur.WorkerCount {
			n = cur.WorkerCount - 1
		}
		return AxisInt{Value: n, ShouldApply: true, Confidence: 0.7}
	default:
		return AxisInt{Value: cur.WorkerCount, ShouldApply: false}
	}
}

func roundStep(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		n = 1
	}
	return n
}

// baseTimeoutMillis maps complexity to a base timeout:
// 1s, 5s, 15s, 60s, 300s for Trivial..Heavy.
func baseTimeoutMillis(c classifier.Complexity) int64 {
	switch c {
	case classifier.Trivial:
		return 1000
	case classifier.Simple:
		return 5000
	case classifier.Moderate:
		return 15000
	case classifier.Complex:
		return 60000
	default:
		return 300000
	}
}

func (e *Engine) timeoutAdjustment(s sampler.Sample, cur Current) AxisInt64 {
	base := baseTimeoutMillis(s.Complexity)
	if cur.FailureRatePercent > 10 {
		base = int64(float64(base) * 1.5)
	}
	diff := base - cur.TimeoutMillis
	if diff < 0 {
		diff = -diff
	}
	return AxisInt64{Value: base, ShouldApply: diff > 5000, Confidence: 0.65}
}

func (e *Engine) priorityBias(s sampler.Sample, cur Current, mult float64) AxisInt {
	var bias int
	switch s.Pattern {
	case classifier.Burst:
		bias = 10
	case classifier.CpuIntensive:
		bias = 5
	case classifier.IoIntensive:
		bias = 3
	case classifier.MemoryIntensive:
		bias = 1
	}

	adjust := 0.0
	if cur.QueueLength > 100 {
		adjust = 2
	} else if cur.QueueLength < 10 {
		adjust = -1
	}
	bias += int(math.Round(adjust * mult))

	if bias > 10 {
		bias = 10
	}
	if bias < -10 {
		bias = -10
	}

	return AxisInt{Value: bias, ShouldApply: bias != 0, Confidence: 0.55}
}

func (e *Engine) batching(s sampler.Sample, cur Current) AxisInt {
	switch {
	case s.Pattern == classifier.Burst:
		return AxisInt{Value: 25, ShouldApply: true, Confidence: 0.6}
	case s.Pattern == classifier.MemoryIntensive:
		return AxisInt{Value: 5, ShouldApply: cur.QueueLength > 20, Confidence: 0.6}
	case s.AvgExecMillis > 0 && s.AvgExecMillis < 10:
		size := int(math.Floor(1000 / s.AvgExecMillis))
		if size > 50 {
			size = 50
		}
		return AxisInt{Value: size, ShouldApply: size > 5, Confidence: 0.6}
	default:
		return AxisInt{ShouldApply: false}
	}
}

func (e *Engine) poolSizing(s sampler.Sample, cur Current) (AxisInt, AxisInt) {
	if s.CompletedPerSecond <= 0 {
		return AxisInt{Value: cur.PoolInitial, ShouldApply: false},
			AxisInt{Value: cur.PoolMax, ShouldApply: false}
	}
	initial := int(math.Round(s.CompletedPerSecond * 2))
	if initial < 2 {
		initial = 2
	}
	max := initial * 2
	if max < cur.PoolMax {
		max = cur.PoolMax
	}
	changed := initial != cur.PoolInitial || max != cur.PoolMax
	return AxisInt{Value: initial, ShouldApply: changed, Confidence: 0.5},
		AxisInt{Value: max, ShouldApply: changed, Confidence: 0.5}
}

func (e *Engine) cleanupInterval(s sampler.Sample, cur Current, mult float64) AxisInt64 {
	fraction := 0.5 * mult
	if fraction > 1 {
		fraction = 1
	}
	switch s.Pattern {
	case classifier.Burst:
		target := cur.CleanupIntervalMillis - int64(float64(cur.CleanupIntervalMillis-1000)*fraction)
		return AxisInt64{Value: target, ShouldApply: target != cur.CleanupIntervalMillis, Confidence: 0.5}
	case classifier.Steady:
		target := cur.CleanupIntervalMillis + int64(float64(10000-cur.CleanupIntervalMillis)*fraction)
		return AxisInt64{Value: target, ShouldApply: target != cur.CleanupIntervalMillis, Confidence: 0.5}
	default:
		return AxisInt64{Value: cur.CleanupIntervalMillis, ShouldApply: false}
	}
}

type loadBalanceResult struct {
	shouldApply bool
	confidence  float64
	assignments []int
}

func (e *Engine) loadBalance(s sampler.Sample, cur Current) loadBalanceResult {
	if cur.WorkerCount <= 1 || s.LoadBalanceScore >= 70 {
		return loadBalanceResult{}
	}
	assignments := evenSplit(int(s.Active), cur.WorkerCount)
	return loadBalanceResult{shouldApply: true, confidence: 0.8, assignments: assignments}
}

// evenSplit divides n items across k buckets as evenly as possible.
func evenSplit(n, k int) []int {
	if k <= 0 {
		return nil
	}
	out := make([]int, k)
	base := n / k
	rem := n % k
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}
