// Package config defines the per-run simulation configuration.
package config

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid matches every configuration error through errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// Error reports one invalid configuration field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is makes every *Error match ErrInvalid.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// Errorf builds an *Error for field.
func Errorf(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Range is a normalization interval [lo, hi].
type Range [2]float64

// Lo returns the lower bound.
func (r Range) Lo() float64 { return r[0] }

// Hi returns the upper bound.
func (r Range) Hi() float64 { return r[1] }

// Normalize maps v linearly so that Lo becomes 0 and Hi becomes 1.
func (r Range) Normalize(v float64) float64 {
	return (v - r[0]) / (r[1] - r[0])
}

// Config is the complete settings record for one run. Treat a Config handed
// to a running pipeline as read-only and Clone it before changing parameters.
type Config struct {
	Model            string             `toml:"model" yaml:"model" validate:"required"`
	Timestep         float64            `toml:"timestep" yaml:"timestep" validate:"gt=0"`
	Duration         float64            `toml:"duration" yaml:"duration" validate:"gte=0"`
	S1Start          float64            `toml:"s1Start" yaml:"s1Start" validate:"gte=0"`
	S1               float64            `toml:"s1" yaml:"s1" validate:"gt=0"`
	S2               float64            `toml:"s2" yaml:"s2" validate:"gte=0"`
	NS1              int                `toml:"ns1" yaml:"ns1" validate:"min=1"`
	StimDur          float64            `toml:"stimdur" yaml:"stimdur" validate:"gt=0"`
	StimMag          float64            `toml:"stimmag" yaml:"stimmag"`
	VoltageVariables []string           `toml:"voltageVariables" yaml:"voltageVariables" validate:"min=1,unique,dive,required"`
	CurrentVariables []string           `toml:"currentVariables" yaml:"currentVariables" validate:"unique,dive,required"`
	Params           map[string]float64 `toml:"params" yaml:"params"`
	PointBuffer      PointBufferConfig  `toml:"pointBuffer" yaml:"pointBuffer"`
	S1S2Points       S1S2Config         `toml:"s1s2Points" yaml:"s1s2Points"`
	APDPoints        APDConfig          `toml:"apdPoints" yaml:"apdPoints"`
}

// PointBufferConfig configures decimation and normalization of series.
type PointBufferConfig struct {
	BufferSize   int              `toml:"bufferSize" yaml:"bufferSize" validate:"min=1"`
	MaxPoints    int              `toml:"maxPoints" yaml:"maxPoints" validate:"gte=0"`
	NormalPoints map[string]Range `toml:"normalPoints" yaml:"normalPoints"`
	MinMaxPoints []string         `toml:"minMaxPoints" yaml:"minMaxPoints" validate:"unique"`
}

// S1S2Config configures the pacing marker analyzer.
type S1S2Config struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// APDConfig configures threshold-crossing beat detection.
type APDConfig struct {
	Threshold  float64  `toml:"threshhold" yaml:"threshhold"`
	VNormalize bool     `toml:"vNormalize" yaml:"vNormalize"`
	Variables  []string `toml:"variables" yaml:"variables" validate:"unique"`
}

// Clone returns a deep copy that shares no maps or slices with c.
func (c Config) Clone() Config {
	out := c
	out.VoltageVariables = slices.Clone(c.VoltageVariables)
	out.CurrentVariables = slices.Clone(c.CurrentVariables)
	out.Params = maps.Clone(c.Params)
	out.PointBuffer.NormalPoints = maps.Clone(c.PointBuffer.NormalPoints)
	out.PointBuffer.MinMaxPoints = slices.Clone(c.PointBuffer.MinMaxPoints)
	out.APDPoints.Variables = slices.Clone(c.APDPoints.Variables)
	return out
}

// Variables returns the declared voltage variables followed by the current variables.
func (c Config) Variables() []string {
	out := make([]string, 0, len(c.VoltageVariables)+len(c.CurrentVariables))
	out = append(out, c.VoltageVariables...)
	return append(out, c.CurrentVariables...)
}

// Declared reports whether name appears in either variable list.
func (c Config) Declared(name string) bool {
	return slices.Contains(c.VoltageVariables, name) || slices.Contains(c.CurrentVariables, name)
}

// MaxIterations bounds the step count of one run.
const MaxIterations = 100_000_000

// AutoTail is the time simulated after the S2 onset when Duration is zero.
const AutoTail = 600.0

// EffectiveDuration returns Duration, or the S2 onset plus AutoTail when
// Duration is zero.
func (c Config) EffectiveDuration() float64 {
	if c.Duration > 0 {
		return c.Duration
	}
	return c.S1Start + float64(c.NS1-1)*c.S1 + c.S2 + AutoTail
}

// Iterations returns the number of steps needed to cover the effective duration.
func (c Config) Iterations() int {
	if c.Timestep <= 0 {
		return 0
	}
	return int(math.Round(c.EffectiveDuration() / c.Timestep))
}

// TrackedVariables returns the variables watched by the APD detector.
func (c Config) TrackedVariables() []string {
	if len(c.APDPoints.Variables) > 0 {
		return slices.Clone(c.APDPoints.Variables)
	}
	return slices.Clone(c.VoltageVariables)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and that the variable lists do not overlap.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, &Error{Field: fieldPath(fe.Namespace()), Reason: describe(fe)})
		}
	}
	for _, name := range c.CurrentVariables {
		if slices.Contains(c.VoltageVariables, name) {
			errs = append(errs, Errorf("currentVariables", "%q is also declared as a voltage variable", name))
		}
	}
	finite := true
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"timestep", c.Timestep},
		{"duration", c.Duration},
		{"s1Start", c.S1Start},
		{"s1", c.S1},
		{"s2", c.S2},
		{"stimdur", c.StimDur},
		{"stimmag", c.StimMag},
		{"apdPoints.threshhold", c.APDPoints.Threshold},
	} {
		if !isFinite(f.value) {
			finite = false
			errs = append(errs, Errorf(f.name, "must be finite"))
		}
	}
	for name, v := range c.Params {
		if !isFinite(v) {
			errs = append(errs, Errorf("params."+name, "must be finite"))
		}
	}
	for name, r := range c.PointBuffer.NormalPoints {
		if !isFinite(r.Lo()) || !isFinite(r.Hi()) {
			errs = append(errs, Errorf("pointBuffer.normalPoints."+name, "must be finite"))
		}
	}
	if finite && c.Timestep > 0 && c.NS1 >= 1 {
		if steps := c.EffectiveDuration() / c.Timestep; steps > MaxIterations {
			errs = append(errs, Errorf("timestep", "%g ms over %g ms needs %.3g steps, more than %d", c.Timestep, c.EffectiveDuration(), steps, MaxIterations))
		}
	}
	return errors.Join(errs...)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be > " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return "needs at least " + fe.Param() + " entries"
		}
		return "must be >= " + fe.Param()
	case "unique":
		return "must not contain duplicates"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
