// Package sampler takes periodic snapshots of executor and system state
// into a bounded ring, and keeps a bounded task-execution-history ring
// consumed by the classifier.
//
// Grounded on original_source/src/core/automation/auto_scheduler.hpp's
// collect_metrics/AutoSchedulerMetrics (queue/timing/throughput/worker/load
// fields, MAX_METRICS_HISTORY=100, MAX_JOB_HISTORY=1000) combined with the
// gopsutil CPU/memory reads already wired in internal/lifecycle.
package sampler

import (
	"sync"
	"time"

	"github.com/gotasklets/tasklets/internal/classifier"
	"github.com/gotasklets/tasklets/internal/lifecycle"
	"github.com/gotasklets/tasklets/internal/stats"
)

const (
	MaxHistory     = 100
	MaxTaskHistory = 1000
)

// Sample is a single sampling-tick snapshot.
type Sample struct {
	Timestamp          time.Time
	CPUPercent         float64
	MemoryPercent      float64
	WorkerUtilization  float64
	CompletedPerSecond float64
	ThroughputTrend    float64
	AvgQueueWaitMillis float64
	AvgExecMillis      float64
	SuccessRatePercent float64
	QueueLength        int
	Active             int64
	Completed          int64
	Failed             int64
	LoadBalanceScore   float64
	Pattern            classifier.Pattern
	Complexity         classifier.Complexity
}

// TaskTiming is one entry in the bounded task-history ring.
type TaskTiming struct {
	ExecutionMillis float64
	Success         bool
	Timestamp       time.Time
}

// Sampler owns the metrics-history ring and the task-history ring.
type Sampler struct {
	sc *stats.Collector
	lc *lifecycle.Manager

	mu               sync.Mutex
	history          []Sample
	prevCompleted    int64
	prevFailed       int64
	prevSampleTime   time.Time
	prevThroughput   float64

	taskMu      sync.Mutex
	taskHistory []TaskTiming
}

func New(sc *stats.Collector, lc *lifecycle.Manager) *Sampler {
	return &Sampler{sc: sc, lc: lc, prevSampleTime: time.Now()}
}

// RecordTaskTiming appends to the bounded task-history ring, evicting the
// oldest entry once MaxTaskHistory is exceeded.
func (s *Sampler) RecordTaskTiming(execMillis float64, success bool) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.taskHistory = append(s.taskHistory, TaskTiming{ExecutionMillis: execMillis, Success: success, Timestamp: time.Now()})
	if len(s.taskHistory) > MaxTaskHistory {
		s.taskHistory = s.taskHistory[len(s.taskHistory)-MaxTaskHistory:]
	}
}

// TaskHistory returns a copy of the current task-history ring.
func (s *Sampler) TaskHistory() []TaskTiming {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	out := make([]TaskTiming, len(s.taskHistory))
	copy(out, s.taskHistory)
	return out
}

// AvgExecMillis returns the average execution time across the task-history
// ring, used by the classifier to derive complexity.
func (s *Sampler) AvgExecMillis() float64 {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if len(s.taskHistory) == 0 {
		return 0
	}
	var sum float64
	for _, t := range s.taskHistory {
		sum += t.ExecutionMillis
	}
	return sum / float64(len(s.taskHistory))
}

// Sample captures a snapshot of executor + system state and appends it to
// the bounded history ring, evicting the oldest entry once MaxHistory is
// exceeded. cpuPercent is supplied by the caller (internal/lifecycle.CPUPercent)
// since reading it is an OS call that should not happen under any lock.
func (s *Sampler) Sample(cpuPercent float64, queueLength int, workerCount int) Sample {
	snap := s.sc.Snapshot()
	mem := s.lc.Stats()

	now := time.Now()

	s.mu.Lock()
	elapsed := now.Sub(s.prevSampleTime).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(snap.Completed-s.prevCompleted) / elapsed
	}
	trend := 1.0
	if s.prevThroughput > 0 {
		trend = throughput / s.prevThroughput
		if trend < 0.1 {
			trend = 0.1
		}
	}
	s.prevCompleted = snap.Completed
	s.prevFailed = snap.Failed
	s.prevSampleTime = now
	s.prevThroughput = throughput
	s.mu.Unlock()

	var utilisation float64
	if workerCount > 0 {
		utilisation = 100 * float64(snap.Active) / float64(workerCount)
	}

	loadBalance := loadBalanceScore(snap.PerWorker)

	avgExec := s.AvgExecMillis()
	complexity := classifier.ClassifyComplexity(avgExec)
	pattern := classifier.ClassifyPattern(classifier.PatternInputs{
		CPUPercent:      cpuPercent,
		MemoryPercent:   mem.SystemUsagePercent,
		AvgExecMillis:   avgExec,
		ThroughputTrend: trend,
	})

	sample := Sample{
		Timestamp:          now,
		CPUPercent:         cpuPercent,
		MemoryPercent:      mem.SystemUsagePercent,
		WorkerUtilization:  utilisation,
		CompletedPerSecond: throughput,
		ThroughputTrend:    trend,
		AvgExecMillis:      avgExec,
		SuccessRatePercent: snap.SuccessRatePercent,
		QueueLength:        queueLength,
		Active:             snap.Active,
		Completed:          snap.Completed,
		Failed:             snap.Failed,
		LoadBalanceScore:   loadBalance,
		Pattern:            pattern,
		Complexity:         complexity,
	}

	s.mu.Lock()
	s.history = append(s.history, sample)
	if len(s.history) > MaxHistory {
		s.history = s.history[len(s.history)-MaxHistory:]
	}
	s.mu.Unlock()

	return sample
}

// History returns a copy of the bounded metrics-history ring.
func (s *Sampler) History() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.history))
	copy(out, s.history)
	return out
}

// loadBalanceScore is 100 minus a variance proxy across per-worker
// completion counts: a perfectly even split scores 100, a lopsided one
// scores lower.
func loadBalanceScore(perWorker []int64) float64 {
	n := len(perWorker)
	if n == 0 {
		return 100
	}
	var sum int64
	for _, v := range perWorker {
		sum += v
	}
	mean := float64(sum) / float64(n)
	if mean == 0 {
		return 100
	}
	var variance float64
	for _, v := range perWorker {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(n)
	proxy := 100 * (variance / (mean * mean))
	score := 100 - proxy
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
