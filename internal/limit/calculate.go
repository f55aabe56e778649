// Package limit derives an inverter power limit from the grid meter and the
// plug that measures the generated power, trying to hold the grid exchange
// at the configured target.
package limit

import (
	"math"

	"shelly-dtu/internal/schema"
)

// Mode is the kind of adjustment a step decided on.
type Mode int

const (
	ModeNone Mode = iota
	ModeIncrease
	ModeDecrease
	ModeOptimize
	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeIncrease:
		return "increase"
	case ModeDecrease:
		return "decrease"
	case ModeOptimize:
		return "optimize"
	}
	return "none"
}

const (
	// Border is the dead band around the target in watts.
	Border = 10.0
	// DeepDecrease is the distance below target that bases the new limit
	// on the generated power instead of the current limit.
	DeepDecrease = 50.0
	// MinChange is the smallest change worth sending.
	MinChange = 15.0

	increaseFactor     = 0.75
	decreaseFactor     = 0.8
	deepDecreaseFactor = 0.9
)

// Calculate returns the mode and the new limit for the current grid and
// generated power. ok is false when the limit should stay unchanged.
func Calculate(cfg schema.ShellyConfig, act, grid, generated float64, channels []float64) (mode Mode, limit float64, ok bool) {
	dist := math.Abs(grid - cfg.TargetValue)
	switch {
	case grid > cfg.TargetValue+Border:
		mode = ModeIncrease
		limit = act + dist*increaseFactor
	case grid < cfg.TargetValue-Border:
		mode = ModeDecrease
		if grid < cfg.TargetValue-DeepDecrease {
			limit = CorrectChannelPower(generated-dist*deepDecreaseFactor, channels)
		} else {
			limit = act - dist*decreaseFactor
		}
	default:
		return ModeOptimize, 0, false
	}

	limit, ok = checkBoundary(cfg, act, limit)
	return mode, limit, ok
}

func checkBoundary(cfg schema.ShellyConfig, act, limit float64) (float64, bool) {
	minPower := math.Trunc(cfg.MinPower)
	if minPower > cfg.TargetValue && limit < minPower-cfg.TargetValue {
		limit = minPower - cfg.TargetValue
	}
	if limit > cfg.MaxPower {
		limit = cfg.MaxPower
	}
	if math.Abs(act-limit) < MinChange {
		return limit, false
	}
	return limit, true
}

// CorrectChannelPower adjusts the needed power for an inverter that caps all
// of its inputs at the same share. With unevenly producing panels the cap
// must lie above needed/n for the sum to reach the needed power.
func CorrectChannelPower(needed float64, channels []float64) float64 {
	n := len(channels)
	if n == 0 {
		return needed
	}

	lo := math.MaxFloat64
	hi := 0.0
	for _, p := range channels {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}

	// Equal shares fit into every channel.
	if needed/float64(n) <= lo {
		return needed
	}

	for c := lo; c <= hi; c++ {
		sum := 0.0
		for _, p := range channels {
			sum += math.Min(c, p)
		}
		if sum > needed {
			return float64(n) * c
		}
	}
	return needed
}
