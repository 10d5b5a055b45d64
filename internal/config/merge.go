package config

import (
	"maps"
	"slices"
)

// Overrides is one layer of optional settings. A nil pointer, nil slice or nil
// map leaves the underlying value untouched.
type Overrides struct {
	Model            *string               `toml:"model" yaml:"model"`
	Timestep         *float64              `toml:"timestep" yaml:"timestep"`
	Duration         *float64              `toml:"duration" yaml:"duration"`
	S1Start          *float64              `toml:"s1Start" yaml:"s1Start"`
	S1               *float64              `toml:"s1" yaml:"s1"`
	S2               *float64              `toml:"s2" yaml:"s2"`
	NS1              *int                  `toml:"ns1" yaml:"ns1"`
	StimDur          *float64              `toml:"stimdur" yaml:"stimdur"`
	StimMag          *float64              `toml:"stimmag" yaml:"stimmag"`
	VoltageVariables []string              `toml:"voltageVariables" yaml:"voltageVariables"`
	CurrentVariables []string              `toml:"currentVariables" yaml:"currentVariables"`
	Params           map[string]float64    `toml:"params" yaml:"params"`
	PointBuffer      *PointBufferOverrides `toml:"pointBuffer" yaml:"pointBuffer"`
	S1S2Points       *S1S2Overrides        `toml:"s1s2Points" yaml:"s1s2Points"`
	APDPoints        *APDOverrides         `toml:"apdPoints" yaml:"apdPoints"`
}

// PointBufferOverrides overrides PointBufferConfig fields.
type PointBufferOverrides struct {
	BufferSize   *int             `toml:"bufferSize" yaml:"bufferSize"`
	MaxPoints    *int             `toml:"maxPoints" yaml:"maxPoints"`
	NormalPoints map[string]Range `toml:"normalPoints" yaml:"normalPoints"`
	MinMaxPoints []string         `toml:"minMaxPoints" yaml:"minMaxPoints"`
}

// S1S2Overrides overrides S1S2Config fields.
type S1S2Overrides struct {
	Enabled *bool `toml:"enabled" yaml:"enabled"`
}

// APDOverrides overrides APDConfig fields.
type APDOverrides struct {
	Threshold  *float64 `toml:"threshhold" yaml:"threshhold"`
	VNormalize *bool    `toml:"vNormalize" yaml:"vNormalize"`
	Variables  []string `toml:"variables" yaml:"variables"`
}

// Merge applies the layers to a clone of base in order, so later layers win.
// Scalars replace, slices replace wholesale, maps merge key by key with the
// layer's entry winning. base is never modified.
func Merge(base Config, layers ...Overrides) Config {
	out := base.Clone()
	for _, o := range layers {
		setIf(&out.Model, o.Model)
		setIf(&out.Timestep, o.Timestep)
		setIf(&out.Duration, o.Duration)
		setIf(&out.S1Start, o.S1Start)
		setIf(&out.S1, o.S1)
		setIf(&out.S2, o.S2)
		setIf(&out.NS1, o.NS1)
		setIf(&out.StimDur, o.StimDur)
		setIf(&out.StimMag, o.StimMag)
		replaceIf(&out.VoltageVariables, o.VoltageVariables)
		replaceIf(&out.CurrentVariables, o.CurrentVariables)
		out.Params = mergeMap(out.Params, o.Params)
		if pb := o.PointBuffer; pb != nil {
			setIf(&out.PointBuffer.BufferSize, pb.BufferSize)
			setIf(&out.PointBuffer.MaxPoints, pb.MaxPoints)
			out.PointBuffer.NormalPoints = mergeMap(out.PointBuffer.NormalPoints, pb.NormalPoints)
			replaceIf(&out.PointBuffer.MinMaxPoints, pb.MinMaxPoints)
		}
		if s := o.S1S2Points; s != nil {
			setIf(&out.S1S2Points.Enabled, s.Enabled)
		}
		if a := o.APDPoints; a != nil {
			setIf(&out.APDPoints.Threshold, a.Threshold)
			setIf(&out.APDPoints.VNormalize, a.VNormalize)
			replaceIf(&out.APDPoints.Variables, a.Variables)
		}
	}
	return out
}

func setIf[T any](target *T, value *T) {
	if value == nil {
		return
	}
	*target = *value
}

func replaceIf(target *[]string, value []string) {
	if value == nil {
		return
	}
	*target = slices.Clone(value)
}

func mergeMap[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	maps.Copy(dst, src)
	return dst
}
