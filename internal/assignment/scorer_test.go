package assignment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreIdleAgentWithFastHistory(t *testing.T) {
	snap := WorkloadSnapshot{CurrentLoad: 0, MaxCapacity: 10, AverageProcessingTimeHours: 2, IsAvailable: true}
	assert.InDelta(t, 50.0, Score(snap), 1e-9)
}

func TestScoreDecreasesWithLoad(t *testing.T) {
	light := WorkloadSnapshot{CurrentLoad: 1, MaxCapacity: 10, AverageProcessingTimeHours: 2, IsAvailable: true}
	heavy := light
	heavy.CurrentLoad = 7

	assert.Greater(t, Score(light), Score(heavy))
}

func TestScorePrefersFasterAgents(t *testing.T) {
	fast := WorkloadSnapshot{CurrentLoad: 3, MaxCapacity: 10, AverageProcessingTimeHours: 1, IsAvailable: true}
	slow := fast
	slow.AverageProcessingTimeHours = 5

	assert.Greater(t, Score(fast), Score(slow))
}

func TestScoreUnavailablePenalty(t *testing.T) {
	available := WorkloadSnapshot{CurrentLoad: 2, MaxCapacity: 10, AverageProcessingTimeHours: 4, IsAvailable: true}
	unavailable := available
	unavailable.IsAvailable = false

	assert.InDelta(t, Score(available)*0.1, Score(unavailable), 1e-9)
}

func TestScoreAtCapacityIsZero(t *testing.T) {
	full := WorkloadSnapshot{CurrentLoad: 10, MaxCapacity: 10, AverageProcessingTimeHours: 4}
	assert.Zero(t, Score(full))

	over := WorkloadSnapshot{CurrentLoad: 14, MaxCapacity: 10, AverageProcessingTimeHours: 4}
	assert.Zero(t, Score(over))
}

func TestScoreEfficiencyFloor(t *testing.T) {
	slow := WorkloadSnapshot{MaxCapacity: 10, AverageProcessingTimeHours: 500, IsAvailable: true}
	assert.InDelta(t, 10.0, Score(slow), 1e-9)

	instant := WorkloadSnapshot{MaxCapacity: 10, AverageProcessingTimeHours: 0, IsAvailable: true}
	assert.InDelta(t, 10000.0, Score(instant), 1e-6)
}

func TestScoreUnboundedCapacityStillPenalisesLoad(t *testing.T) {
	idle := WorkloadSnapshot{CurrentLoad: 0, MaxCapacity: UnlimitedCapacity, AverageProcessingTimeHours: 1, IsAvailable: true}
	busy := idle
	busy.CurrentLoad = 3

	assert.InDelta(t, 100.0, Score(idle), 1e-9)
	assert.InDelta(t, 25.0, Score(busy), 1e-9)
}

func TestScoreNeverNegative(t *testing.T) {
	cases := []WorkloadSnapshot{
		{CurrentLoad: -4, MaxCapacity: 10, AverageProcessingTimeHours: 3, IsAvailable: true},
		{CurrentLoad: 50, MaxCapacity: 10, AverageProcessingTimeHours: -2},
		{CurrentLoad: 1, MaxCapacity: 0, AverageProcessingTimeHours: math.NaN()},
	}
	for _, snap := range cases {
		score := Score(snap)
		assert.False(t, math.IsNaN(score))
		assert.GreaterOrEqual(t, score, 0.0)
	}
}
