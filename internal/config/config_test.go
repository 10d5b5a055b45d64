package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Model:            "test",
		Timestep:         0.1,
		Duration:         100,
		S1Start:          10,
		S1:               50,
		S2:               30,
		NS1:              2,
		StimDur:          1,
		StimMag:          0.2,
		VoltageVariables: []string{"Vm"},
		CurrentVariables: []string{"Iion"},
		Params:           map[string]float64{"k": 8},
		PointBuffer: PointBufferConfig{
			BufferSize:   10,
			NormalPoints: map[string]Range{"Vm": {-90, 30}},
			MinMaxPoints: []string{"Iion"},
		},
		APDPoints: APDConfig{Threshold: -70},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateReportsFieldErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Timestep = 0
	cfg.NS1 = 0
	cfg.PointBuffer.BufferSize = 0
	cfg.CurrentVariables = []string{"Vm"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	msg := err.Error()
	assert.Contains(t, msg, "timestep: must be > 0")
	assert.Contains(t, msg, "ns1: must be >= 1")
	assert.Contains(t, msg, "pointBuffer.bufferSize: must be >= 1")
	assert.Contains(t, msg, "also declared as a voltage variable")
}

func TestValidateRejectsNonFinite(t *testing.T) {
	inf, nan := math.Inf(1), math.NaN()
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"timestep", func(c *Config) { c.Timestep = inf }},
		{"duration", func(c *Config) { c.Duration = inf }},
		{"s1Start", func(c *Config) { c.S1Start = math.Inf(-1) }},
		{"s1", func(c *Config) { c.S1 = inf }},
		{"s2", func(c *Config) { c.S2 = inf }},
		{"stimdur", func(c *Config) { c.StimDur = inf }},
		{"stimmag", func(c *Config) { c.StimMag = nan }},
		{"apdPoints.threshhold", func(c *Config) { c.APDPoints.Threshold = nan }},
		{"pointBuffer.normalPoints.Vm", func(c *Config) { c.PointBuffer.NormalPoints["Vm"] = Range{-90, inf} }},
		{"params.k", func(c *Config) { c.Params["k"] = inf }},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field+": must be finite")
		})
	}
}

func TestValidateBoundsIterations(t *testing.T) {
	cfg := validConfig()
	cfg.Timestep = 1e-9
	err := cfg.Validate()
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "timestep", cerr.Field)

	cfg.Timestep = 0.125
	cfg.Duration = 0.125 * MaxIterations
	require.NoError(t, cfg.Validate())
	assert.Equal(t, MaxIterations, cfg.Iterations())
}

func TestCloneSharesNothing(t *testing.T) {
	orig := validConfig()
	clone := orig.Clone()
	clone.VoltageVariables[0] = "changed"
	clone.Params["k"] = 1
	clone.PointBuffer.NormalPoints["Vm"] = Range{0, 1}
	clone.PointBuffer.MinMaxPoints[0] = "changed"

	assert.Equal(t, "Vm", orig.VoltageVariables[0])
	assert.Equal(t, 8.0, orig.Params["k"])
	assert.Equal(t, Range{-90, 30}, orig.PointBuffer.NormalPoints["Vm"])
	assert.Equal(t, "Iion", orig.PointBuffer.MinMaxPoints[0])
}

func TestMergePrecedence(t *testing.T) {
	base := validConfig()
	s2 := 40.0
	s2Flag := 25.0
	size := 5
	file := Overrides{
		S2:     &s2,
		Params: map[string]float64{"a": 0.15},
		PointBuffer: &PointBufferOverrides{
			BufferSize:   &size,
			NormalPoints: map[string]Range{"Iion": {-1, 1}},
		},
	}
	flags := Overrides{S2: &s2Flag, VoltageVariables: []string{"Vm", "u"}}

	merged := Merge(base, file, flags)

	assert.Equal(t, 25.0, merged.S2)
	assert.Equal(t, 5, merged.PointBuffer.BufferSize)
	assert.Equal(t, []string{"Vm", "u"}, merged.VoltageVariables)
	assert.Equal(t, map[string]float64{"k": 8, "a": 0.15}, merged.Params)
	assert.Len(t, merged.PointBuffer.NormalPoints, 2)

	assert.Equal(t, 30.0, base.S2, "base must not change")
	assert.Len(t, base.Params, 1)
	assert.Len(t, base.PointBuffer.NormalPoints, 1)
}

func TestMergeWithoutLayersIsClone(t *testing.T) {
	base := validConfig()
	merged := Merge(base)
	assert.Equal(t, base, merged)
	merged.Params["k"] = 2
	assert.Equal(t, 8.0, base.Params["k"])
}

func TestRangeNormalize(t *testing.T) {
	r := Range{-90, 30}
	assert.Equal(t, 0.0, r.Normalize(-90))
	assert.Equal(t, 1.0, r.Normalize(30))
	assert.Less(t, r.Normalize(-10), r.Normalize(0))
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	ov, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Nil(t, ov.Timestep)
}

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
model = "aliev-panfilov"
s2 = 280.0
ns1 = 4

[pointBuffer]
bufferSize = 20
normalPoints = { Vm = [-80.0, 20.0] }

[apdPoints]
threshhold = -60.0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	ov, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, ov.Model)
	assert.Equal(t, "aliev-panfilov", *ov.Model)
	assert.Equal(t, 280.0, *ov.S2)
	assert.Equal(t, 4, *ov.NS1)
	require.NotNil(t, ov.PointBuffer)
	assert.Equal(t, 20, *ov.PointBuffer.BufferSize)
	assert.Equal(t, Range{-80, 20}, ov.PointBuffer.NormalPoints["Vm"])
	assert.Equal(t, -60.0, *ov.APDPoints.Threshold)
	assert.Nil(t, ov.Timestep)
}

func TestLoadFileTOMLRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("s3 = 1.0\n"), 0o644))
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3")
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
s1: 400
voltageVariables: [Vm]
apdPoints:
  vNormalize: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	ov, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 400.0, *ov.S1)
	assert.Equal(t, []string{"Vm"}, ov.VoltageVariables)
	assert.True(t, *ov.APDPoints.VNormalize)
}

func TestEncodeDecodeKeepsSettings(t *testing.T) {
	cfg := validConfig()
	text, err := Encode(cfg)
	require.NoError(t, err)
	assert.Contains(t, text, "threshhold")

	decoded, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, cfg.S2, decoded.S2)
	assert.Equal(t, cfg.PointBuffer.NormalPoints, decoded.PointBuffer.NormalPoints)
	assert.Equal(t, cfg.VoltageVariables, decoded.VoltageVariables)
}

func TestIterations(t *testing.T) {
	cfg := validConfig()
	cfg.Timestep = 0.1
	cfg.Duration = 100
	assert.Equal(t, 1000, cfg.Iterations())

	cfg.Duration = 0
	assert.Equal(t, 10+50+30+AutoTail, cfg.EffectiveDuration())
	assert.Equal(t, 6900, cfg.Iterations())
}
