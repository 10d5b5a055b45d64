package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
	"github.com/verte-zerg/cellpace/internal/runner"
	"github.com/verte-zerg/cellpace/internal/stats"
)

var (
	sweepFrom     float64
	sweepTo       float64
	sweepStep     float64
	sweepParallel int
	sweepVariable string
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sweep the S2 coupling interval and print the restitution curve",
		Args:  cobra.NoArgs,
	}
	flags := addPipelineFlags(cmd)
	cmd.Flags().Float64Var(&sweepFrom, "from", 200, "first S2 interval in ms")
	cmd.Flags().Float64Var(&sweepTo, "to", 500, "last S2 interval in ms")
	cmd.Flags().Float64Var(&sweepStep, "step", 20, "S2 increment in ms")
	cmd.Flags().IntVar(&sweepParallel, "parallel", runtime.NumCPU(), "concurrent runs")
	cmd.Flags().StringVar(&sweepVariable, "variable", "", "tracked variable (default: first APD variable)")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runSweepCmd(cmd, flags)
	}
	return cmd
}

func runSweepCmd(cmd *cobra.Command, flags *pipelineFlags) error {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}
	intervals, err := sweepIntervals(sweepFrom, sweepTo, sweepStep)
	if err != nil {
		return err
	}
	variable := sweepVariable
	if variable == "" {
		variable = cfg.TrackedVariables()[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	points, err := sweepS2(ctx, cfg, intervals, variable, sweepParallel, slog.Default())
	if err != nil {
		return err
	}
	if missed := len(intervals) - len(points); missed > 0 {
		logErrln(fmt.Sprintf("%d of %d S2 stimuli did not capture", missed, len(intervals)))
	}
	if err := stats.RenderSweep(cmd.OutOrStdout(), points, stats.RenderOptions{}); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func sweepIntervals(from, to, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, fmt.Errorf("--step must be > 0")
	}
	if from < 0 || to < from {
		return nil, fmt.Errorf("--from and --to must satisfy 0 <= from <= to")
	}
	n := int(math.Floor((to-from)/step+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, from+float64(i)*step)
	}
	return out, nil
}

// sweepS2 runs one pipeline per S2 interval on at most parallel workers.
// Each worker owns its runner and reruns it with a cloned config. Intervals
// whose S2 pulse does not capture a beat are left out of the result; a
// diverged run is logged and skipped.
func sweepS2(ctx context.Context, base config.Config, intervals []float64, variable string, parallel int, logger *slog.Logger) ([]model.RestitutionPoint, error) {
	if parallel < 1 {
		parallel = 1
	}
	parallel = min(parallel, len(intervals))
	if !base.S1S2Points.Enabled {
		base = base.Clone()
		base.S1S2Points.Enabled = true
	}

	jobs := make(chan float64)
	var (
		mu     sync.Mutex
		points []model.RestitutionPoint
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, s2 := range intervals {
			select {
			case jobs <- s2:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < parallel; w++ {
		g.Go(func() error {
			r, err := runner.Build(base, runner.WithLogger(logger))
			if err != nil {
				return err
			}
			for s2 := range jobs {
				cfg := base.Clone()
				cfg.S2 = s2
				run, err := r.Rerun(ctx, cfg)
				if errors.Is(err, runner.ErrDiverged) {
					logger.Warn("sweep run diverged", "s2", s2, "err", err)
					continue
				}
				if err != nil {
					return fmt.Errorf("s2 %g: %w", s2, err)
				}
				p, ok := stats.S2Response(run, variable)
				if !ok {
					logger.Debug("s2 did not capture", "s2", s2)
					continue
				}
				mu.Lock()
				points = append(points, p)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}
