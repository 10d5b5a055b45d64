package analyzer

import (
	"slices"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
	"github.com/verte-zerg/cellpace/internal/pacing"
)

// S1S2Name identifies the pacing marker analyzer.
const S1S2Name = "s1s2Points"

// S1S2 derives pacing markers from the configuration alone. It is recomputed
// on Initialize and Reset and ignores snapshots.
type S1S2 struct {
	enabled bool
	onsets  []float64
	s2      float64
}

// NewS1S2 returns an uninitialized marker analyzer.
func NewS1S2() *S1S2 {
	return &S1S2{}
}

// Name implements Analyzer.
func (a *S1S2) Name() string { return S1S2Name }

// Initialize implements Analyzer.
func (a *S1S2) Initialize(cfg config.Config) error {
	a.enabled = cfg.S1S2Points.Enabled
	a.onsets, a.s2 = nil, 0
	if !a.enabled {
		return nil
	}
	schedule, err := pacing.FromConfig(cfg)
	if err != nil {
		return err
	}
	a.onsets = schedule.Onsets()
	a.s2 = schedule.S2()
	return nil
}

// Reset implements Analyzer.
func (a *S1S2) Reset(cfg config.Config) error {
	return a.Initialize(cfg)
}

// Aggregate implements Analyzer.
func (a *S1S2) Aggregate(model.Snapshot) {}

// Onsets returns every stimulus onset, S2 last.
func (a *S1S2) Onsets() []float64 {
	return slices.Clone(a.onsets)
}

// S2 returns the premature stimulus onset and whether markers are enabled.
func (a *S1S2) S2() (float64, bool) {
	return a.s2, a.enabled
}

// Markers returns one unit-height point per onset for plotting.
func (a *S1S2) Markers() []model.Point {
	out := make([]model.Point, 0, len(a.onsets))
	for _, t := range a.onsets {
		out = append(out, model.Point{Time: t, Value: 1})
	}
	return out
}

// Collect implements Collector.
func (a *S1S2) Collect(run *model.Run) {
	if !a.enabled {
		return
	}
	run.Onsets = a.Onsets()
	run.S2Onset = a.s2
}
