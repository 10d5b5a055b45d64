// Package model defines shared data structures.
package model

import (
	"maps"
	"slices"
	"time"
)

// Snapshot holds every named value of a cell model at one simulated instant.
type Snapshot struct {
	Time     float64
	Values   map[string]float64
	Stimulus bool
}

// Value returns the named value and whether the snapshot carries it.
func (s Snapshot) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Point is one recorded sample of a buffered series.
type Point struct {
	Time  float64
	Value float64
}

// Extremes tracks the raw running minimum and maximum of a variable.
type Extremes struct {
	Min   float64
	Max   float64
	Count int
}

// Observe folds v into the extremes.
func (e *Extremes) Observe(v float64) {
	if e.Count == 0 || v < e.Min {
		e.Min = v
	}
	if e.Count == 0 || v > e.Max {
		e.Max = v
	}
	e.Count++
}

// Beat is one detected action potential on a tracked variable.
type Beat struct {
	UpTime   float64
	DownTime float64
}

// APD returns the action potential duration of the beat.
func (b Beat) APD() float64 {
	return b.DownTime - b.UpTime
}

// APDs returns the duration of every beat.
func APDs(beats []Beat) []float64 {
	out := make([]float64, len(beats))
	for i, b := range beats {
		out[i] = b.APD()
	}
	return out
}

// DIs returns the diastolic interval preceding every beat but the first.
func DIs(beats []Beat) []float64 {
	if len(beats) < 2 {
		return nil
	}
	out := make([]float64, 0, len(beats)-1)
	for i := 1; i < len(beats); i++ {
		out = append(out, beats[i].UpTime-beats[i-1].DownTime)
	}
	return out
}

// RunStatus describes how a run ended.
type RunStatus string

// Run statuses.
const (
	RunCompleted RunStatus = "completed"
	RunDiverged  RunStatus = "diverged"
	RunCancelled RunStatus = "cancelled"
)

// Run collects the outputs of one pipeline run.
type Run struct {
	ID        string
	Model     string
	Status    RunStatus
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
	Steps     int
	Timestep  float64
	S1        float64
	S2        float64
	NS1       int

	Series   map[string][]Point
	Extremes map[string]Extremes
	Beats    map[string][]Beat
	Onsets   []float64
	S2Onset  float64
}

// Valid reports whether the run finished without divergence or cancellation.
func (r Run) Valid() bool {
	return r.Status == RunCompleted
}

// Clone returns a copy of r that shares no maps or slices with it.
func (r Run) Clone() Run {
	out := r
	out.Series = cloneMap(r.Series)
	out.Beats = cloneMap(r.Beats)
	out.Extremes = maps.Clone(r.Extremes)
	out.Onsets = slices.Clone(r.Onsets)
	return out
}

func cloneMap[T any](m map[string][]T) map[string][]T {
	if m == nil {
		return nil
	}
	out := make(map[string][]T, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// RunFilter narrows stored run listings.
type RunFilter struct {
	Model string
	Since *time.Time
	Last  int
}

// RunSummary is a stored run without its series.
type RunSummary struct {
	ID        string
	Model     string
	Status    RunStatus
	StartedAt time.Time
	Steps     int
	S1        float64
	S2        float64
	NS1       int
	Beats     int
}

// RestitutionPoint pairs an APD with the diastolic interval that preceded it.
type RestitutionPoint struct {
	S2  float64
	DI  float64
	APD float64
}
