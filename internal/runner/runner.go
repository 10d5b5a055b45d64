// Package runner drives a calculator and its analyzers through a run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/cellpace/internal/analyzer"
	"github.com/verte-zerg/cellpace/internal/calculator"
	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

// Runner owns the step loop. Analyzers receive each snapshot in the order
// they were registered. A Runner is not safe for concurrent use; see
// Controller. LastCompleted is the exception and may be called while a run is
// in flight.
type Runner struct {
	calc      calculator.Calculator
	analyzers []analyzer.Analyzer
	cfg       config.Config
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	initialized bool
	finished    bool
	last        atomic.Pointer[model.Run]
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records run activity in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithClock overrides the wall clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a runner for calc with no analyzers.
func New(calc calculator.Calculator, opts ...Option) *Runner {
	r := &Runner{
		calc:   calc,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a to the analyzer chain. Names must be unique.
func (r *Runner) Register(a analyzer.Analyzer) error {
	for _, existing := range r.analyzers {
		if existing.Name() == a.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateName, a.Name())
		}
	}
	r.analyzers = append(r.analyzers, a)
	r.initialized = false
	return nil
}

// Analyzers returns the registered analyzers in order.
func (r *Runner) Analyzers() []analyzer.Analyzer {
	return slices.Clone(r.analyzers)
}

// Calculator returns the driven calculator.
func (r *Runner) Calculator() calculator.Calculator {
	return r.calc
}

// Config returns the configuration of the current run.
func (r *Runner) Config() config.Config {
	return r.cfg.Clone()
}

// Initialize validates cfg and initializes the calculator and every
// analyzer. The runner keeps its own copy of cfg.
func (r *Runner) Initialize(cfg config.Config) error {
	return r.prepare(cfg, false)
}

// Reset discards all run state and prepares a new run with cfg. Buffers from
// the previous run are dropped, never merged.
func (r *Runner) Reset(cfg config.Config) error {
	return r.prepare(cfg, true)
}

func (r *Runner) prepare(cfg config.Config, reset bool) error {
	r.initialized = false
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Model != "" && cfg.Model != r.calc.Name() {
		return config.Errorf("model", "runner drives %q, not %q", r.calc.Name(), cfg.Model)
	}
	cfg = cfg.Clone()

	var err error
	if reset {
		err = r.calc.Reset(cfg)
	} else {
		err = r.calc.Initialize(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s: %w", r.calc.Name(), err)
	}
	for _, a := range r.analyzers {
		if reset {
			err = a.Reset(cfg)
		} else {
			err = a.Initialize(cfg)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize analyzer %s: %w", a.Name(), err)
		}
	}
	r.cfg = cfg
	r.initialized = true
	r.finished = false
	return nil
}

type runResult struct {
	steps      int
	status     model.RunStatus
	beats      int
	divergedOn string
	elapsed    time.Duration
}

// Run performs the configured number of iterations. Each iteration steps the
// calculator once and hands the snapshot to every analyzer.
//
// The returned run is always populated with whatever was collected. On
// divergence it is marked diverged and the error is a *DivergenceError; on
// context cancellation it is marked cancelled and the error is ctx.Err().
func (r *Runner) Run(ctx context.Context) (model.Run, error) {
	if !r.initialized {
		return model.Run{}, ErrNotInitialized
	}
	if r.finished {
		return model.Run{}, ErrFinished
	}
	r.finished = true

	run := model.Run{
		ID:        uuid.NewString(),
		Model:     r.calc.Name(),
		StartedAt: r.now(),
		Timestep:  r.cfg.Timestep,
		S1:        r.cfg.S1,
		S2:        r.cfg.S2,
		NS1:       r.cfg.NS1,
	}
	iterations := r.cfg.Iterations()
	logger := r.logger.With("run", run.ID, "model", run.Model)
	logger.Debug("run started", "iterations", iterations, "timestep", r.cfg.Timestep)

	var runErr error
	steps := 0
	for steps < iterations {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		snap := r.calc.Step()
		if err := checkFinite(steps+1, snap); err != nil {
			runErr = err
			break
		}
		steps++
		for _, a := range r.analyzers {
			a.Aggregate(snap)
		}
	}

	run.Steps = steps
	run.EndedAt = r.now()
	for _, a := range r.analyzers {
		if c, ok := a.(analyzer.Collector); ok {
			c.Collect(&run)
		}
	}

	result := runResult{steps: steps, elapsed: run.EndedAt.Sub(run.StartedAt)}
	for _, beats := range run.Beats {
		result.beats += len(beats)
	}
	var divErr *DivergenceError
	switch {
	case runErr == nil:
		run.Status = model.RunCompleted
		completed := run.Clone()
		r.last.Store(&completed)
		logger.Info("run completed", "steps", steps, "beats", result.beats)
	case errors.As(runErr, &divErr):
		run.Status = model.RunDiverged
		run.Error = runErr.Error()
		result.divergedOn = divErr.Variable
		logger.Warn("run diverged", "step", divErr.Step, "time", divErr.Time, "variable", divErr.Variable, "value", divErr.Value)
	default:
		run.Status = model.RunCancelled
		run.Error = runErr.Error()
		logger.Info("run cancelled", "steps", steps)
	}
	result.status = run.Status
	r.metrics.observe(run.Model, result)
	return run, runErr
}

// Rerun is Reset followed by Run.
func (r *Runner) Rerun(ctx context.Context, cfg config.Config) (model.Run, error) {
	if err := r.Reset(cfg); err != nil {
		return model.Run{}, err
	}
	return r.Run(ctx)
}

// LastCompleted returns a copy of the most recent run that finished
// normally. It is safe to call while another run is in flight.
func (r *Runner) LastCompleted() (model.Run, bool) {
	last := r.last.Load()
	if last == nil {
		return model.Run{}, false
	}
	return last.Clone(), true
}

func checkFinite(step int, snap model.Snapshot) error {
	var bad []string
	for name, v := range snap.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad = append(bad, name)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	name := slices.Min(bad)
	return &DivergenceError{Step: step, Time: snap.Time, Variable: name, Value: snap.Values[name]}
}
