package analyzer

import (
	"fmt"
	"slices"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

// APDName identifies the action potential duration analyzer.
const APDName = "apdPoints"

// CrossingState is the side of the threshold a tracked signal is on.
type CrossingState int

// Crossing states.
const (
	BelowThreshold CrossingState = iota
	AboveThreshold
)

func (s CrossingState) String() string {
	switch s {
	case BelowThreshold:
		return "below"
	case AboveThreshold:
		return "above"
	default:
		return fmt.Sprintf("CrossingState(%d)", int(s))
	}
}

type crossing struct {
	state   CrossingState
	prev    float64
	hasPrev bool
	upTime  float64
	beats   []model.Beat
}

// observe advances the state machine. A crossing happens on the step where
// the signal reaches the threshold coming from the other side, so a signal
// resting exactly on the threshold does not toggle.
func (c *crossing) observe(t, v, threshold float64) {
	switch c.state {
	case BelowThreshold:
		if v > threshold || (v == threshold && (!c.hasPrev || c.prev < threshold)) {
			c.state = AboveThreshold
			c.upTime = t
		}
	case AboveThreshold:
		if v < threshold || (v == threshold && c.hasPrev && c.prev > threshold) {
			c.state = BelowThreshold
			c.beats = append(c.beats, model.Beat{UpTime: c.upTime, DownTime: t})
		}
	}
	c.prev = v
	c.hasPrev = true
}

// APD detects threshold crossings on each tracked variable and records
// completed beats. There is a single threshold and no hysteresis band.
type APD struct {
	threshold float64
	variables []string
	normalize map[string]config.Range
	tracks    map[string]*crossing
}

// NewAPD returns an uninitialized APD analyzer.
func NewAPD() *APD {
	return &APD{}
}

// Name implements Analyzer.
func (a *APD) Name() string { return APDName }

// Initialize implements Analyzer.
func (a *APD) Initialize(cfg config.Config) error {
	variables := cfg.TrackedVariables()
	if len(variables) == 0 {
		return config.Errorf("apdPoints.variables", "no variable to track")
	}
	if err := requireDeclared(cfg, "apdPoints.variables", variables); err != nil {
		return err
	}
	normalize := map[string]config.Range{}
	if cfg.APDPoints.VNormalize {
		for _, name := range variables {
			r, ok := cfg.PointBuffer.NormalPoints[name]
			if !ok {
				return config.Errorf("apdPoints.vNormalize", "variable %q has no pointBuffer.normalPoints range", name)
			}
			if r.Lo() >= r.Hi() {
				return config.Errorf("pointBuffer.normalPoints."+name, "lower bound %g must be below upper bound %g", r.Lo(), r.Hi())
			}
			normalize[name] = r
		}
	}
	a.threshold = cfg.APDPoints.Threshold
	a.variables = variables
	a.normalize = normalize
	a.tracks = make(map[string]*crossing, len(variables))
	for _, name := range variables {
		a.tracks[name] = &crossing{}
	}
	return nil
}

// Reset implements Analyzer.
func (a *APD) Reset(cfg config.Config) error {
	a.tracks = nil
	return a.Initialize(cfg)
}

// Aggregate implements Analyzer.
func (a *APD) Aggregate(snap model.Snapshot) {
	for _, name := range a.variables {
		v, ok := snap.Values[name]
		if !ok {
			continue
		}
		if r, ok := a.normalize[name]; ok {
			v = r.Normalize(v)
		}
		a.tracks[name].observe(snap.Time, v, a.threshold)
	}
}

// Variables returns the tracked variable names.
func (a *APD) Variables() []string {
	return slices.Clone(a.variables)
}

// State returns the current crossing state of name.
func (a *APD) State(name string) CrossingState {
	if c, ok := a.tracks[name]; ok {
		return c.state
	}
	return BelowThreshold
}

// Beats returns a copy of the completed beats of name.
func (a *APD) Beats(name string) []model.Beat {
	c, ok := a.tracks[name]
	if !ok {
		return nil
	}
	return slices.Clone(c.beats)
}

// Open reports whether name is above threshold with an unfinished beat, and
// when that beat started.
func (a *APD) Open(name string) (float64, bool) {
	c, ok := a.tracks[name]
	if !ok || c.state != AboveThreshold {
		return 0, false
	}
	return c.upTime, true
}

// APDs returns the duration of every completed beat of name.
func (a *APD) APDs(name string) []float64 {
	return model.APDs(a.Beats(name))
}

// DIs returns the diastolic intervals of name: from each beat's end to the
// next beat's start.
func (a *APD) DIs(name string) []float64 {
	return model.DIs(a.Beats(name))
}

// Collect implements Collector.
func (a *APD) Collect(run *model.Run) {
	if run.Beats == nil {
		run.Beats = make(map[string][]model.Beat, len(a.variables))
	}
	for _, name := range a.variables {
		run.Beats[name] = a.Beats(name)
	}
}
