package analyzer

import (
	"maps"
	"math"
	"slices"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

// PointBufferName identifies the point buffer analyzer.
const PointBufferName = "pointBuffer"

// PointBuffer keeps every BufferSize-th sample of each declared variable,
// optionally normalized, and tracks raw running extremes on every sample.
//
// Counting is one-based: after K aggregates a series holds floor(K/B) points
// and point i (from 1) is stamped i*B*timestep.
type PointBuffer struct {
	timestep   float64
	bufferSize int
	maxPoints  int
	variables  []string
	normal     map[string]config.Range
	series     map[string][]model.Point
	extremes   map[string]*model.Extremes
	stepCount  int
}

// NewPointBuffer returns an uninitialized point buffer.
func NewPointBuffer() *PointBuffer {
	return &PointBuffer{}
}

// Name implements Analyzer.
func (b *PointBuffer) Name() string { return PointBufferName }

// Initialize implements Analyzer.
func (b *PointBuffer) Initialize(cfg config.Config) error {
	pb := cfg.PointBuffer
	if cfg.Timestep <= 0 {
		return config.Errorf("timestep", "must be > 0, got %g", cfg.Timestep)
	}
	if pb.BufferSize < 1 {
		return config.Errorf("pointBuffer.bufferSize", "must be >= 1, got %d", pb.BufferSize)
	}
	if pb.MaxPoints < 0 {
		return config.Errorf("pointBuffer.maxPoints", "must be >= 0, got %d", pb.MaxPoints)
	}
	names := slices.Sorted(maps.Keys(pb.NormalPoints))
	if err := requireDeclared(cfg, "pointBuffer.normalPoints", names); err != nil {
		return err
	}
	for _, name := range names {
		r := pb.NormalPoints[name]
		if math.IsNaN(r.Lo()) || math.IsNaN(r.Hi()) || math.IsInf(r.Lo(), 0) || math.IsInf(r.Hi(), 0) {
			return config.Errorf("pointBuffer.normalPoints."+name, "range must be finite")
		}
		if r.Lo() >= r.Hi() {
			return config.Errorf("pointBuffer.normalPoints."+name, "lower bound %g must be below upper bound %g", r.Lo(), r.Hi())
		}
	}
	if err := requireDeclared(cfg, "pointBuffer.minMaxPoints", pb.MinMaxPoints); err != nil {
		return err
	}

	b.timestep = cfg.Timestep
	b.bufferSize = pb.BufferSize
	b.maxPoints = pb.MaxPoints
	b.variables = cfg.Variables()
	b.normal = maps.Clone(pb.NormalPoints)
	b.series = make(map[string][]model.Point, len(b.variables))
	for _, name := range b.variables {
		b.series[name] = nil
	}
	b.extremes = make(map[string]*model.Extremes, len(pb.MinMaxPoints))
	for _, name := range pb.MinMaxPoints {
		b.extremes[name] = &model.Extremes{}
	}
	b.stepCount = 0
	return nil
}

// Reset implements Analyzer.
func (b *PointBuffer) Reset(cfg config.Config) error {
	b.series = nil
	b.extremes = nil
	b.stepCount = 0
	return b.Initialize(cfg)
}

// Aggregate implements Analyzer.
func (b *PointBuffer) Aggregate(snap model.Snapshot) {
	b.stepCount++
	for name, ext := range b.extremes {
		if v, ok := snap.Values[name]; ok {
			ext.Observe(v)
		}
	}
	if b.stepCount%b.bufferSize != 0 {
		return
	}
	t := float64(b.stepCount) * b.timestep
	for _, name := range b.variables {
		v, ok := snap.Values[name]
		if !ok {
			continue
		}
		b.series[name] = b.appendBounded(b.series[name], model.Point{Time: t, Value: b.Transform(name, v)})
	}
}

func (b *PointBuffer) appendBounded(points []model.Point, p model.Point) []model.Point {
	points = append(points, p)
	if b.maxPoints > 0 && len(points) >= 2*b.maxPoints {
		points = append(points[:0], points[len(points)-b.maxPoints:]...)
	}
	return points
}

// Transform returns v normalized by the variable's range, or v unchanged.
func (b *PointBuffer) Transform(name string, v float64) float64 {
	if r, ok := b.normal[name]; ok {
		return r.Normalize(v)
	}
	return v
}

// StepCount returns the number of aggregated snapshots.
func (b *PointBuffer) StepCount() int { return b.stepCount }

// Series returns a copy of the recorded points of name.
func (b *PointBuffer) Series(name string) []model.Point {
	points := b.series[name]
	if b.maxPoints > 0 && len(points) > b.maxPoints {
		points = points[len(points)-b.maxPoints:]
	}
	return slices.Clone(points)
}

// Extremes returns the raw running extremes of name, if tracked.
func (b *PointBuffer) Extremes(name string) (model.Extremes, bool) {
	ext, ok := b.extremes[name]
	if !ok {
		return model.Extremes{}, false
	}
	return *ext, true
}

// Variables returns the buffered variable names in declaration order.
func (b *PointBuffer) Variables() []string {
	return slices.Clone(b.variables)
}

// Collect implements Collector.
func (b *PointBuffer) Collect(run *model.Run) {
	if run.Series == nil {
		run.Series = make(map[string][]model.Point, len(b.variables))
	}
	for _, name := range b.variables {
		run.Series[name] = b.Series(name)
	}
	if len(b.extremes) == 0 {
		return
	}
	if run.Extremes == nil {
		run.Extremes = make(map[string]model.Extremes, len(b.extremes))
	}
	for name, ext := range b.extremes {
		if ext.Count > 0 {
			run.Extremes[name] = *ext
		}
	}
}
