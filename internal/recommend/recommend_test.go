package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gotasklets/tasklets/internal/classifier"
	"github.com/gotasklets/tasklets/internal/sampler"
)

func baseCurrent() Current {
	return Current{
		WorkerCount:           4,
		MaxWorkers:            16,
		TimeoutMillis:         30000,
		CleanupIntervalMillis: 1000,
		PoolInitial:           4,
		PoolMax:               64,
		QueueLength:           5,
		FailureRatePercent:    0,
	}
}

func TestWorkerScalesUpWhenUtilizationHigh(t *testing.T) {
	e := New()
	set := e.Generate(sampler.Sample{WorkerUtilization: 95, Pattern: classifier.Mixed}, baseCurrent())
	assert.True(t, set.WorkerCount.ShouldApply)
	assert.Greater(t, set.WorkerCount.Value, 4)
	assert.Equal(t, 0.8, set.WorkerCount.Confidence)
}

func TestWorkerScalesDownWhenUtilizationLow(t *testing.T) {
	e := New()
	set := e.Generate(sampler.Sample{WorkerUtilization: 10, Pattern: classifier.Mixed}, baseCurrent())
	assert.True(t, set.WorkerCount.ShouldApply)
	assert.Less(t, set.WorkerCount.Value, 4)
}

func TestWorkerScalingRespectsMaxWorkers(t *testing.T) {
	e := New()
	cur := baseCurrent()
	cur.WorkerCount = 16
	cur.MaxWorkers = 16
	set := e.Generate(sampler.Sample{WorkerUtilization: 95, Pattern: classifier.Mixed}, cur)
	assert.False(t, set.WorkerCount.ShouldApply)
}

func TestWorkerScalingNeverDropsBelowOne(t *testing.T) {
	e := New()
	cur := baseCurrent()
	cur.WorkerCount = 1
	set := e.Generate(sampler.Sample{WorkerUtilization: 5, Pattern: classifier.MemoryIntensive}, cur)
	assert.False(t, set.WorkerCount.ShouldApply)
}

func TestAggressiveStrategyScalesFurtherThanModerate(t *testing.T) {
	moderate := New()
	moderate.Strategy = Moderate
	setM := moderate.Generate(sampler.Sample{WorkerUtilization: 95, Pattern: classifier.IoIntensive}, baseCurrent())

	aggressive := New()
	aggressive.Strategy = Aggressive
	setA := aggressive.Generate(sampler.Sample{WorkerUtilization: 95, Pattern: classifier.IoIntensive}, baseCurrent())

	assert.GreaterOrEqual(t, setA.WorkerCount.Value, setM.WorkerCount.Value)
}

func TestTimeoutAdjustmentFollowsComplexity(t *testing.T) {
	e := New()
	cur := baseCurrent()
	cur.TimeoutMillis = 1000
	set := e.Generate(sampler.Sample{Complexity: classifier.Heavy}, cur)
	assert.True(t, set.TimeoutMillis.ShouldApply)
	assert.Equal(t, int64(300000), set.TimeoutMillis.Value)
}

func TestTimeoutNotAppliedWhenCloseToCurrent(t *testing.T) {
	e := New()
	cur := baseCurrent()
	cur.TimeoutMillis = 1000
	set := e.Generate(sampler.Sample{Complexity: classifier.Trivial}, cur)
	assert.False(t, set.TimeoutMillis.ShouldApply)
}

func TestPriorityBiasClampedToRange(t *testing.T) {
	e := New()
	cur := baseCurrent()
	cur.QueueLength = 200
	set := e.Generate(sampler.Sample{Pattern: classifier.Burst}, cur)
	assert.LessOrEqual(t, set.PriorityBias.Value, 10)
}

func TestBatchingBurstAlwaysApplies(t *testing.T) {
	e := New()
	set := e.Generate(sampler.Sample{Pattern: classifier.Burst}, baseCurrent())
	assert.True(t, set.BatchSize.ShouldApply)
	assert.Equal(t, 25, set.BatchSize.Value)
}

func TestBatchingMemoryIntensiveGatedByQueueLength(t *testing.T) {
	e := New()
	cur := baseCurrent()
	cur.QueueLength = 5
	set := e.Generate(sampler.Sample{Pattern: classifier.MemoryIntensive}, cur)
	assert.False(t, set.BatchSize.ShouldApply)

	cur.QueueLength = 50
	set = e.Generate(sampler.Sample{Pattern: classifier.MemoryIntensive}, cur)
	assert.True(t, set.BatchSize.ShouldApply)
}

func TestLoadBalanceProposesEvenSplitWhenImbalanced(t *testing.T) {
	e := New()
	cur := baseCurrent()
	set := e.Generate(sampler.Sample{LoadBalanceScore: 30, Active: 9}, cur)
	assert.Len(t, set.WorkerAssignments, cur.WorkerCount)

	var sum int
	for _, v := range set.WorkerAssignments {
		sum += v
	}
	assert.Equal(t, 9, sum)
}

func TestLoadBalanceNoopWhenBalanced(t *testing.T) {
	e := New()
	set := e.Generate(sampler.Sample{LoadBalanceScore: 95, Active: 9}, baseCurrent())
	assert.Nil(t, set.WorkerAssignments)
}

func TestOverallConfidenceAveragesAppliedAxesOnly(t *testing.T) {
	e := New()
	set := e.Generate(sampler.Sample{WorkerUtilization: 50, Pattern: classifier.Mixed}, baseCurrent())
	assert.GreaterOrEqual(t, set.OverallConfidence, 0.0)
	assert.LessOrEqual(t, set.OverallConfidence, 1.0)
}
