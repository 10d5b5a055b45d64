package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/cellpace/internal/calculator"
	"github.com/verte-zerg/cellpace/internal/config"
)

const defaultModel = calculator.MitchellSchaefferName

// pipelineFlags are the configuration flags shared by run, view and sweep.
// A flag only overrides the config file when it was set on the command line.
type pipelineFlags struct {
	model      string
	timestep   float64
	duration   float64
	s1Start    float64
	s1         float64
	s2         float64
	ns1        int
	stimDur    float64
	stimMag    float64
	bufferSize int
	maxPoints  int
	threshold  float64
	vNormalize bool
	apdVars    []string
	params     []string
}

func addPipelineFlags(cmd *cobra.Command) *pipelineFlags {
	f := &pipelineFlags{}
	flags := cmd.Flags()
	flags.StringVar(&f.model, "model", defaultModel, "cell model (see: cellpace models)")
	flags.Float64Var(&f.timestep, "timestep", 0, "integration timestep in ms")
	flags.Float64Var(&f.duration, "duration", 0, "simulated time in ms (0 = S2 onset + 600)")
	flags.Float64Var(&f.s1Start, "s1-start", 0, "first S1 onset in ms")
	flags.Float64Var(&f.s1, "s1", 0, "S1 pacing interval in ms")
	flags.Float64Var(&f.s2, "s2", 0, "S2 coupling interval in ms")
	flags.IntVar(&f.ns1, "ns1", 0, "number of S1 stimuli")
	flags.Float64Var(&f.stimDur, "stimdur", 0, "stimulus pulse duration in ms")
	flags.Float64Var(&f.stimMag, "stimmag", 0, "stimulus magnitude")
	flags.IntVar(&f.bufferSize, "buffer-size", 0, "record every Nth step")
	flags.IntVar(&f.maxPoints, "max-points", 0, "keep at most N points per series (0 = unbounded)")
	flags.Float64Var(&f.threshold, "threshold", 0, "APD detection threshold")
	flags.BoolVar(&f.vNormalize, "vnormalize", false, "detect APD on normalized values")
	flags.StringSliceVar(&f.apdVars, "apd-var", nil, "variables tracked for APD (default: voltage variables)")
	flags.StringArrayVar(&f.params, "param", nil, "model parameter override name=value (repeatable)")
	return f
}

// overrides returns the flag layer, holding only flags set by the user.
func (f *pipelineFlags) overrides(cmd *cobra.Command) (config.Overrides, error) {
	var o config.Overrides
	applyFlag(cmd, "model", &o.Model, f.model)
	applyFlag(cmd, "timestep", &o.Timestep, f.timestep)
	applyFlag(cmd, "duration", &o.Duration, f.duration)
	applyFlag(cmd, "s1-start", &o.S1Start, f.s1Start)
	applyFlag(cmd, "s1", &o.S1, f.s1)
	applyFlag(cmd, "s2", &o.S2, f.s2)
	applyFlag(cmd, "ns1", &o.NS1, f.ns1)
	applyFlag(cmd, "stimdur", &o.StimDur, f.stimDur)
	applyFlag(cmd, "stimmag", &o.StimMag, f.stimMag)

	var pb config.PointBufferOverrides
	applyFlag(cmd, "buffer-size", &pb.BufferSize, f.bufferSize)
	applyFlag(cmd, "max-points", &pb.MaxPoints, f.maxPoints)
	if pb.BufferSize != nil || pb.MaxPoints != nil {
		o.PointBuffer = &pb
	}

	var apd config.APDOverrides
	applyFlag(cmd, "threshold", &apd.Threshold, f.threshold)
	applyFlag(cmd, "vnormalize", &apd.VNormalize, f.vNormalize)
	if cmd.Flags().Changed("apd-var") {
		apd.Variables = f.apdVars
	}
	if apd.Threshold != nil || apd.VNormalize != nil || apd.Variables != nil {
		o.APDPoints = &apd
	}

	params, err := parseParams(f.params)
	if err != nil {
		return config.Overrides{}, err
	}
	o.Params = params
	return o, nil
}

func applyFlag[T any](cmd *cobra.Command, name string, target **T, value T) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v := value
	*target = &v
}

func parseParams(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--param %q must be name=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("--param %s: invalid number %q", name, raw)
		}
		out[name] = v
	}
	return out, nil
}

// resolveConfig merges model defaults, the config file and the flags, in
// that order, and validates the result.
func resolveConfig(cmd *cobra.Command, f *pipelineFlags) (config.Config, error) {
	fileLayer, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	flagLayer, err := f.overrides(cmd)
	if err != nil {
		return config.Config{}, err
	}

	name := defaultModel
	if fileLayer.Model != nil {
		name = *fileLayer.Model
	}
	if flagLayer.Model != nil {
		name = *flagLayer.Model
	}
	base, err := calculator.Defaults(name)
	if err != nil {
		return config.Config{}, fmt.Errorf("%w (available: %s)", err, strings.Join(calculator.Names(), ", "))
	}

	cfg := config.Merge(base, fileLayer, flagLayer)
	cfg.Model = name
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
