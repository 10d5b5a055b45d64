package analyzer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

func testConfig() config.Config {
	return config.Config{
		Model:            "stub",
		Timestep:         1,
		S1Start:          10,
		S1:               100,
		NS1:              3,
		S2:               50,
		StimDur:          1,
		VoltageVariables: []string{"v"},
		CurrentVariables: []string{"i"},
		PointBuffer:      config.PointBufferConfig{BufferSize: 1},
		S1S2Points:       config.S1S2Config{Enabled: true},
		APDPoints:        config.APDConfig{Threshold: 0.5},
	}
}

func feed(a Analyzer, times, values []float64) {
	for k := range times {
		a.Aggregate(model.Snapshot{Time: times[k], Values: map[string]float64{"v": values[k], "i": -values[k]}})
	}
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, config.ErrInvalid), "not a configuration error: %v", err)
	var cerr *config.Error
	require.True(t, errors.As(err, &cerr))
	return cerr.Field
}

func TestPointBufferDecimates(t *testing.T) {
	cfg := testConfig()
	cfg.Timestep = 0.1
	cfg.PointBuffer.BufferSize = 10
	b := NewPointBuffer()
	require.NoError(t, b.Initialize(cfg))

	for k := 1; k <= 95; k++ {
		b.Aggregate(model.Snapshot{Time: float64(k) * 0.1, Values: map[string]float64{"v": float64(k), "i": 0}})
	}
	assert.Equal(t, 95, b.StepCount())
	points := b.Series("v")
	require.Len(t, points, 9)
	for i, p := range points {
		assert.InDelta(t, float64(i+1), p.Time, 1e-9)
		assert.Equal(t, float64((i+1)*10), p.Value)
	}
	assert.Len(t, b.Series("i"), 9)
	assert.Empty(t, b.Series("undeclared"))
}

func TestPointBufferNormalizes(t *testing.T) {
	cfg := testConfig()
	cfg.PointBuffer.NormalPoints = map[string]config.Range{"v": {-90, 30}}
	b := NewPointBuffer()
	require.NoError(t, b.Initialize(cfg))

	raw := []float64{-90, -60, -30, 0, 30}
	feed(b, []float64{1, 2, 3, 4, 5}, raw)
	points := b.Series("v")
	require.Len(t, points, len(raw))
	assert.Equal(t, 0.0, points[0].Value)
	assert.Equal(t, 1.0, points[len(points)-1].Value)
	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].Value, points[i-1].Value)
	}
	// Variables without a range are stored raw.
	assert.Equal(t, 90.0, b.Series("i")[0].Value)
}

func TestPointBufferExtremesSeeEverySample(t *testing.T) {
	cfg := testConfig()
	cfg.PointBuffer.BufferSize = 4
	cfg.PointBuffer.MinMaxPoints = []string{"v"}
	b := NewPointBuffer()
	require.NoError(t, b.Initialize(cfg))

	feed(b, []float64{1, 2, 3, 4, 5, 6}, []float64{3, -7, 12, 0, 1, 2})
	ext, ok := b.Extremes("v")
	require.True(t, ok)
	assert.Equal(t, -7.0, ext.Min)
	assert.Equal(t, 12.0, ext.Max)
	assert.Equal(t, 6, ext.Count)

	_, ok = b.Extremes("i")
	assert.False(t, ok)

	var run model.Run
	b.Collect(&run)
	assert.Equal(t, ext, run.Extremes["v"])
	assert.Len(t, run.Series["v"], 1)
}

func TestPointBufferMaxPoints(t *testing.T) {
	cfg := testConfig()
	cfg.PointBuffer.MaxPoints = 5
	b := NewPointBuffer()
	require.NoError(t, b.Initialize(cfg))

	for k := 1; k <= 23; k++ {
		b.Aggregate(model.Snapshot{Time: float64(k), Values: map[string]float64{"v": float64(k)}})
	}
	points := b.Series("v")
	require.Len(t, points, 5)
	assert.Equal(t, 19.0, points[0].Time)
	assert.Equal(t, 23.0, points[4].Time)
	assert.Less(t, len(b.series["v"]), 10)
}

func TestPointBufferResetIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.PointBuffer.BufferSize = 2
	cfg.PointBuffer.MinMaxPoints = []string{"i"}
	b := NewPointBuffer()
	require.NoError(t, b.Initialize(cfg))

	times := []float64{1, 2, 3, 4, 5, 6, 7}
	values := []float64{0, 1, 4, 9, 16, 25, 36}
	feed(b, times, values)
	var first model.Run
	b.Collect(&first)

	require.NoError(t, b.Reset(cfg))
	assert.Zero(t, b.StepCount())
	assert.Empty(t, b.Series("v"))
	require.NoError(t, b.Reset(cfg))

	feed(b, times, values)
	var second model.Run
	b.Collect(&second)
	assert.Equal(t, first.Series, second.Series)
	assert.Equal(t, first.Extremes, second.Extremes)
}

func TestPointBufferCollectCopies(t *testing.T) {
	b := NewPointBuffer()
	require.NoError(t, b.Initialize(testConfig()))
	feed(b, []float64{1, 2}, []float64{1, 2})

	var run model.Run
	b.Collect(&run)
	run.Series["v"][0].Value = 100
	assert.Equal(t, 1.0, b.Series("v")[0].Value)
}

func TestPointBufferRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		field  string
	}{
		{"zero buffer size", func(c *config.Config) { c.PointBuffer.BufferSize = 0 }, "pointBuffer.bufferSize"},
		{"negative max points", func(c *config.Config) { c.PointBuffer.MaxPoints = -1 }, "pointBuffer.maxPoints"},
		{"undeclared normal", func(c *config.Config) {
			c.PointBuffer.NormalPoints = map[string]config.Range{"Cai": {0, 1}}
		}, "pointBuffer.normalPoints"},
		{"empty range", func(c *config.Config) {
			c.PointBuffer.NormalPoints = map[string]config.Range{"v": {1, 1}}
		}, "pointBuffer.normalPoints.v"},
		{"undeclared minmax", func(c *config.Config) { c.PointBuffer.MinMaxPoints = []string{"Cai"} }, "pointBuffer.minMaxPoints"},
		{"zero timestep", func(c *config.Config) { c.Timestep = 0 }, "timestep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			assert.Equal(t, tt.field, fieldOf(t, NewPointBuffer().Initialize(cfg)))
		})
	}
}

func TestS1S2Markers(t *testing.T) {
	a := NewS1S2()
	require.NoError(t, a.Initialize(testConfig()))
	assert.Equal(t, []float64{10, 110, 210, 260}, a.Onsets())
	s2, ok := a.S2()
	assert.True(t, ok)
	assert.Equal(t, 260.0, s2)
	assert.Len(t, a.Markers(), 4)

	a.Aggregate(model.Snapshot{Time: 1})
	var run model.Run
	a.Collect(&run)
	assert.Equal(t, []float64{10, 110, 210, 260}, run.Onsets)
	assert.Equal(t, 260.0, run.S2Onset)

	cfg := testConfig()
	cfg.S2 = 80
	require.NoError(t, a.Reset(cfg))
	assert.Equal(t, []float64{10, 110, 210, 290}, a.Onsets())
}

func TestS1S2Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.S1S2Points.Enabled = false
	cfg.NS1 = 0
	a := NewS1S2()
	require.NoError(t, a.Initialize(cfg))
	_, ok := a.S2()
	assert.False(t, ok)
	assert.Empty(t, a.Onsets())

	var run model.Run
	a.Collect(&run)
	assert.Nil(t, run.Onsets)
}

func TestS1S2RejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.NS1 = 0
	assert.Equal(t, "ns1", fieldOf(t, NewS1S2().Initialize(cfg)))
}

func ramp() ([]float64, []float64) {
	var times, values []float64
	for k := 0; k <= 40; k++ {
		t := float64(k)
		v := t / 20
		if k > 20 {
			v = (40 - t) / 20
		}
		times = append(times, t)
		values = append(values, v)
	}
	return times, values
}

func TestAPDDetectsRamp(t *testing.T) {
	a := NewAPD()
	require.NoError(t, a.Initialize(testConfig()))
	times, values := ramp()
	feed(a, times, values)

	beats := a.Beats("v")
	require.Len(t, beats, 1)
	assert.Equal(t, 10.0, beats[0].UpTime)
	assert.Equal(t, 30.0, beats[0].DownTime)
	assert.Equal(t, []float64{20}, a.APDs("v"))
	assert.Equal(t, BelowThreshold, a.State("v"))
	_, open := a.Open("v")
	assert.False(t, open)
}

func TestAPDMultipleBeats(t *testing.T) {
	a := NewAPD()
	require.NoError(t, a.Initialize(testConfig()))
	values := []float64{0, 1, 1, 0, 0, 0, 1, 1, 1, 0, 0, 1}
	times := make([]float64, len(values))
	for k := range times {
		times[k] = float64(k)
	}
	feed(a, times, values)

	assert.Equal(t, []model.Beat{{UpTime: 1, DownTime: 3}, {UpTime: 6, DownTime: 9}}, a.Beats("v"))
	assert.Equal(t, []float64{2, 3}, a.APDs("v"))
	assert.Equal(t, []float64{3}, a.DIs("v"))

	up, open := a.Open("v")
	assert.True(t, open)
	assert.Equal(t, 11.0, up)
	assert.Equal(t, AboveThreshold, a.State("v"))

	var run model.Run
	a.Collect(&run)
	assert.Len(t, run.Beats["v"], 2)
}

func TestAPDPlateauAtThreshold(t *testing.T) {
	a := NewAPD()
	require.NoError(t, a.Initialize(testConfig()))
	feed(a, []float64{0, 1, 2, 3, 4, 5}, []float64{0, 0.5, 0.5, 0.5, 0.5, 0})
	assert.Equal(t, []model.Beat{{UpTime: 1, DownTime: 5}}, a.Beats("v"))

	require.NoError(t, a.Reset(testConfig()))
	feed(a, []float64{0, 1, 2}, []float64{0.5, 0.5, 0.5})
	up, open := a.Open("v")
	assert.True(t, open)
	assert.Zero(t, up)
	assert.Empty(t, a.Beats("v"))
}

// Without hysteresis every crossing counts, so noise around the threshold
// produces short beats.
func TestAPDNoiseChatters(t *testing.T) {
	a := NewAPD()
	require.NoError(t, a.Initialize(testConfig()))
	feed(a, []float64{0, 1, 2, 3, 4}, []float64{0.4, 0.6, 0.4, 0.6, 0.4})
	assert.Equal(t, []model.Beat{{UpTime: 1, DownTime: 2}, {UpTime: 3, DownTime: 4}}, a.Beats("v"))
}

func TestAPDNormalizes(t *testing.T) {
	cfg := testConfig()
	cfg.APDPoints.VNormalize = true
	cfg.PointBuffer.NormalPoints = map[string]config.Range{"v": {-90, 30}}
	a := NewAPD()
	require.NoError(t, a.Initialize(cfg))
	feed(a, []float64{0, 1, 2, 3}, []float64{-90, 0, -20, -50})
	assert.Equal(t, []model.Beat{{UpTime: 1, DownTime: 3}}, a.Beats("v"))
}

func TestAPDRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.APDPoints.VNormalize = true
	assert.Equal(t, "apdPoints.vNormalize", fieldOf(t, NewAPD().Initialize(cfg)))

	cfg = testConfig()
	cfg.APDPoints.Variables = []string{"Cai"}
	assert.Equal(t, "apdPoints.variables", fieldOf(t, NewAPD().Initialize(cfg)))
}

func TestAPDTracksExplicitVariables(t *testing.T) {
	cfg := testConfig()
	cfg.APDPoints.Variables = []string{"i"}
	cfg.APDPoints.Threshold = -0.5
	a := NewAPD()
	require.NoError(t, a.Initialize(cfg))
	times, values := ramp()
	feed(a, times, values)

	assert.Equal(t, []string{"i"}, a.Variables())
	assert.Empty(t, a.Beats("v"))
	// i = -v starts above -0.5 and dips below it between t=10 and t=30.
	assert.Equal(t, []model.Beat{{UpTime: 0, DownTime: 10}}, a.Beats("i"))
	up, open := a.Open("i")
	assert.True(t, open)
	assert.Equal(t, 30.0, up)
}
