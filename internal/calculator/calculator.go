// Package calculator defines the cell model contract and the model registry.
//
// A Calculator owns a state vector and advances it by one fixed timestep per
// Step call, applying stimulus current from the run's S1-S2 schedule. Every
// physiological model is one implementation; the runner only sees this
// interface.
package calculator

import (
	"maps"
	"slices"
	"sort"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
	"github.com/verte-zerg/cellpace/internal/pacing"
)

// Calculator integrates one cell model. Reset and Step must not be called
// concurrently on the same instance.
type Calculator interface {
	// Name returns the registry name of the model.
	Name() string
	// Initialize seeds the state vector and builds the pacing schedule.
	Initialize(cfg config.Config) error
	// Step advances exactly one timestep and returns a fresh snapshot.
	Step() model.Snapshot
	// Snapshot returns the current state without advancing.
	Snapshot() model.Snapshot
	// Reset reseeds the state and rebuilds the schedule from cfg.
	Reset(cfg config.Config) error
}

// clock counts fixed steps so that simulated time is always step*dt.
type clock struct {
	dt       float64
	step     int
	schedule pacing.Schedule
}

func newClock(cfg config.Config) (clock, error) {
	if cfg.Timestep <= 0 {
		return clock{}, config.Errorf("timestep", "must be > 0, got %g", cfg.Timestep)
	}
	schedule, err := pacing.FromConfig(cfg)
	if err != nil {
		return clock{}, err
	}
	return clock{dt: cfg.Timestep, schedule: schedule}, nil
}

func (c clock) now() float64 {
	return float64(c.step) * c.dt
}

// stimulus returns the current injected during the step starting now.
func (c clock) stimulus() (float64, bool) {
	return c.schedule.Active(c.now())
}

// resolveParams overlays overrides on defaults, rejecting unknown names.
func resolveParams(defaults, overrides map[string]float64) (map[string]float64, error) {
	out := maps.Clone(defaults)
	for name, v := range overrides {
		if _, ok := defaults[name]; !ok {
			known := slices.Sorted(maps.Keys(defaults))
			return nil, config.Errorf("params."+name, "unknown parameter (known: %v)", known)
		}
		out[name] = v
	}
	return out, nil
}

// checkVariables verifies that every declared variable is produced by the model.
func checkVariables(cfg config.Config, produced []string) error {
	for _, name := range cfg.Variables() {
		if !slices.Contains(produced, name) {
			sorted := slices.Clone(produced)
			sort.Strings(sorted)
			return config.Errorf("variables", "model does not produce %q (available: %v)", name, sorted)
		}
	}
	return nil
}

func snapshot(t float64, stim bool, values map[string]float64) model.Snapshot {
	return model.Snapshot{Time: t, Values: values, Stimulus: stim}
}
