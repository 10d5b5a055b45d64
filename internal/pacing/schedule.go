// Package pacing builds S1-S2 stimulus schedules.
package pacing

import (
	"math"
	"slices"

	"github.com/verte-zerg/cellpace/internal/config"
)

// Params describes an S1-S2 protocol.
type Params struct {
	S1Start   float64
	S1        float64
	NS1       int
	S2        float64
	Duration  float64
	Magnitude float64
}

// ParamsFrom extracts the pacing parameters of cfg.
func ParamsFrom(cfg config.Config) Params {
	return Params{
		S1Start:   cfg.S1Start,
		S1:        cfg.S1,
		NS1:       cfg.NS1,
		S2:        cfg.S2,
		Duration:  cfg.StimDur,
		Magnitude: cfg.StimMag,
	}
}

// Schedule is an immutable, ordered list of stimulus onsets. It says nothing
// about whether a pulse will capture; that is up to the cell model.
type Schedule struct {
	onsets    []float64
	duration  float64
	magnitude float64
}

// New returns the schedule for p: NS1 onsets spaced S1 apart from S1Start,
// then one extra onset S2 after the last of them.
func New(p Params) (Schedule, error) {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"s1Start", p.S1Start},
		{"s1", p.S1},
		{"s2", p.S2},
		{"stimdur", p.Duration},
		{"stimmag", p.Magnitude},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return Schedule{}, config.Errorf(f.name, "must be finite, got %g", f.value)
		}
	}
	if p.NS1 < 1 {
		return Schedule{}, config.Errorf("ns1", "must be >= 1, got %d", p.NS1)
	}
	if p.S1 <= 0 {
		return Schedule{}, config.Errorf("s1", "must be > 0, got %g", p.S1)
	}
	if p.S2 < 0 {
		return Schedule{}, config.Errorf("s2", "must be >= 0, got %g", p.S2)
	}
	if p.Duration <= 0 {
		return Schedule{}, config.Errorf("stimdur", "must be > 0, got %g", p.Duration)
	}
	onsets := make([]float64, 0, p.NS1+1)
	for k := 0; k < p.NS1; k++ {
		onsets = append(onsets, p.S1Start+float64(k)*p.S1)
	}
	onsets = append(onsets, p.S1Start+float64(p.NS1-1)*p.S1+p.S2)
	return Schedule{onsets: onsets, duration: p.Duration, magnitude: p.Magnitude}, nil
}

// FromConfig is New(ParamsFrom(cfg)).
func FromConfig(cfg config.Config) (Schedule, error) {
	return New(ParamsFrom(cfg))
}

// Onsets returns a copy of every onset, S2 last.
func (s Schedule) Onsets() []float64 {
	return slices.Clone(s.onsets)
}

// S2 returns the premature stimulus onset.
func (s Schedule) S2() float64 {
	if len(s.onsets) == 0 {
		return 0
	}
	return s.onsets[len(s.onsets)-1]
}

// Active returns the stimulus amplitude at time t and whether any pulse is on.
// Pulses cover [onset, onset+duration).
func (s Schedule) Active(t float64) (float64, bool) {
	for _, onset := range s.onsets {
		if t >= onset && t < onset+s.duration {
			return s.magnitude, true
		}
	}
	return 0, false
}
