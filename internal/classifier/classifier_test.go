package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPatternCpuIntensive(t *testing.T) {
	p := ClassifyPattern(PatternInputs{CPUPercent: 85, MemoryPercent: 30})
	assert.Equal(t, CpuIntensive, p)
}

func TestClassifyPatternIoIntensive(t *testing.T) {
	p := ClassifyPattern(PatternInputs{CPUPercent: 20, MemoryPercent: 30, AvgExecMillis: 1})
	assert.Equal(t, IoIntensive, p)
}

func TestClassifyPatternMemoryIntensive(t *testing.T) {
	p := ClassifyPattern(PatternInputs{CPUPercent: 40, MemoryPercent: 80, AvgExecMillis: 500})
	assert.Equal(t, MemoryIntensive, p)
}

func TestClassifyPatternBurst(t *testing.T) {
	p := ClassifyPattern(PatternInputs{CPUPercent: 40, MemoryPercent: 40, AvgExecMillis: 500, ThroughputTrend: 2.0})
	assert.Equal(t, Burst, p)
}

func TestClassifyPatternSteady(t *testing.T) {
	p := ClassifyPattern(PatternInputs{CPUPercent: 40, MemoryPercent: 40, AvgExecMillis: 500, ThroughputTrend: 1.05})
	assert.Equal(t, Steady, p)
}

func TestClassifyPatternMixedFallback(t *testing.T) {
	p := ClassifyPattern(PatternInputs{CPUPercent: 40, MemoryPercent: 40, AvgExecMillis: 500, ThroughputTrend: 0.5})
	assert.Equal(t, Mixed, p)
}

func TestClassifyComplexityThresholds(t *testing.T) {
	assert.Equal(t, Trivial, ClassifyComplexity(0.5))
	assert.Equal(t, Simple, ClassifyComplexity(5))
	assert.Equal(t, Moderate, ClassifyComplexity(50))
	assert.Equal(t, Complex, ClassifyComplexity(500))
	assert.Equal(t, Heavy, ClassifyComplexity(5000))
}

func TestPatternAndComplexityStrings(t *testing.T) {
	assert.Equal(t, "cpu_intensive", CpuIntensive.String())
	assert.Equal(t, "mixed", Mixed.String())
	assert.Equal(t, "heavy", Heavy.String())
	assert.Equal(t, "trivial", Trivial.String())
}
