package runner

import (
	"fmt"

	"github.com/verte-zerg/cellpace/internal/analyzer"
	"github.com/verte-zerg/cellpace/internal/calculator"
	"github.com/verte-zerg/cellpace/internal/config"
)

// DefaultAnalyzers returns the standard analyzer chain in registration order.
func DefaultAnalyzers() []analyzer.Analyzer {
	return []analyzer.Analyzer{
		analyzer.NewPointBuffer(),
		analyzer.NewS1S2(),
		analyzer.NewAPD(),
	}
}

// Build looks up cfg.Model in the calculator registry, registers the
// default analyzers and initializes the pipeline.
func Build(cfg config.Config, opts ...Option) (*Runner, error) {
	calc, err := calculator.New(cfg.Model)
	if err != nil {
		return nil, err
	}
	r := New(calc, opts...)
	for _, a := range DefaultAnalyzers() {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	if err := r.Initialize(cfg); err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return r, nil
}

// PointBuffer returns the registered point buffer, if any.
func (r *Runner) PointBuffer() (*analyzer.PointBuffer, bool) {
	return find[*analyzer.PointBuffer](r)
}

// APD returns the registered APD analyzer, if any.
func (r *Runner) APD() (*analyzer.APD, bool) {
	return find[*analyzer.APD](r)
}

// S1S2 returns the registered pacing marker analyzer, if any.
func (r *Runner) S1S2() (*analyzer.S1S2, bool) {
	return find[*analyzer.S1S2](r)
}

func find[T analyzer.Analyzer](r *Runner) (T, bool) {
	for _, a := range r.analyzers {
		if t, ok := a.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}
