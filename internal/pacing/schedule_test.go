package pacing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/cellpace/internal/config"
)

func TestScheduleOnsets(t *testing.T) {
	cases := []struct {
		name string
		p    Params
	}{
		{name: "single", p: Params{S1Start: 0, S1: 100, NS1: 1, S2: 50, Duration: 1}},
		{name: "train", p: Params{S1Start: 10, S1: 500, NS1: 8, S2: 300, Duration: 2}},
		{name: "fractional", p: Params{S1Start: 2.5, S1: 0.75, NS1: 5, S2: 0.25, Duration: 0.1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.p)
			require.NoError(t, err)
			onsets := s.Onsets()
			require.Len(t, onsets, tc.p.NS1+1)
			for k := 0; k < tc.p.NS1; k++ {
				assert.Equal(t, tc.p.S1Start+float64(k)*tc.p.S1, onsets[k])
			}
			assert.Equal(t, tc.p.S1Start+float64(tc.p.NS1-1)*tc.p.S1+tc.p.S2, onsets[tc.p.NS1])
			assert.Equal(t, onsets[tc.p.NS1], s.S2())
			for i := 1; i < len(onsets); i++ {
				assert.Greater(t, onsets[i], onsets[i-1])
			}
		})
	}
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		p     Params
		field string
	}{
		{name: "no beats", p: Params{S1: 100, NS1: 0, Duration: 1}, field: "ns1"},
		{name: "zero period", p: Params{S1: 0, NS1: 3, Duration: 1}, field: "s1"},
		{name: "negative coupling", p: Params{S1: 100, NS1: 3, S2: -1, Duration: 1}, field: "s2"},
		{name: "zero pulse", p: Params{S1: 100, NS1: 3, Duration: 0}, field: "stimdur"},
		{name: "infinite period", p: Params{S1: math.Inf(1), NS1: 2, Duration: 1}, field: "s1"},
		{name: "infinite start", p: Params{S1Start: math.Inf(-1), S1: 100, NS1: 2, Duration: 1}, field: "s1Start"},
		{name: "infinite coupling", p: Params{S1: 100, NS1: 2, S2: math.Inf(1), Duration: 1}, field: "s2"},
		{name: "nan pulse", p: Params{S1: 100, NS1: 2, Duration: math.NaN()}, field: "stimdur"},
		{name: "infinite magnitude", p: Params{S1: 100, NS1: 2, Duration: 1, Magnitude: math.Inf(1)}, field: "stimmag"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalid))
			var cerr *config.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestScheduleActiveWindowIsHalfOpen(t *testing.T) {
	s, err := New(Params{S1Start: 10, S1: 100, NS1: 2, S2: 40, Duration: 2, Magnitude: 0.5})
	require.NoError(t, err)

	for _, tc := range []struct {
		t      float64
		active bool
	}{
		{9.9, false}, {10, true}, {11.9, true}, {12, false},
		{110, true}, {112, false},
		{150, true}, {151.5, true}, {152, false},
	} {
		mag, ok := s.Active(tc.t)
		assert.Equal(t, tc.active, ok, "t=%g", tc.t)
		if ok {
			assert.Equal(t, 0.5, mag)
		}
	}
}

func TestScheduleIsReproducible(t *testing.T) {
	cfg := config.Config{S1Start: 5, S1: 300, NS1: 4, S2: 180, StimDur: 1, StimMag: 1}
	first, err := FromConfig(cfg)
	require.NoError(t, err)
	second, err := FromConfig(cfg.Clone())
	require.NoError(t, err)
	assert.Equal(t, first.Onsets(), second.Onsets())

	onsets := first.Onsets()
	onsets[0] = -1
	assert.Equal(t, 5.0, first.Onsets()[0])
}
