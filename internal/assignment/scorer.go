package assignment

import "math"

const (
	defaultProcessingHours = 24.0
	minProcessingHours     = 0.01
	minEfficiency          = 0.1
	unavailableBonus       = 0.1
	scoreScale             = 100.0
)

// Score ranks an agent for new work. Higher is better; the result is never
// negative.
//
//	score = loadFactor × availabilityBonus × efficiencyFactor × 100
func Score(s WorkloadSnapshot) float64 {
	bonus := 1.0
	if !s.IsAvailable {
		bonus = unavailableBonus
	}
	return loadFactor(s) * bonus * efficiencyFactor(s.AverageProcessingTimeHours) * scoreScale
}

// loadFactor is 1 for an idle agent and falls to 0 at capacity. Unbounded
// agents decay as 1/(1+load) so that load still matters.
func loadFactor(s WorkloadSnapshot) float64 {
	load := float64(max(s.CurrentLoad, 0))
	switch {
	case s.MaxCapacity < 0:
		return 1 / (1 + load)
	case s.MaxCapacity == 0:
		return 0
	}
	return math.Max(0, 1-load/float64(s.MaxCapacity))
}

func efficiencyFactor(hours float64) float64 {
	if math.IsNaN(hours) || hours < minProcessingHours {
		hours = minProcessingHours
	}
	return math.Max(minEfficiency, 1/hours)
}
