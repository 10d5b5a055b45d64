package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBeatIntervals(t *testing.T) {
	beats := []Beat{{UpTime: 10, DownTime: 30}, {UpTime: 50, DownTime: 65}, {UpTime: 70, DownTime: 80}}
	assert.Equal(t, []float64{20, 15, 10}, APDs(beats))
	assert.Equal(t, []float64{20, 5}, DIs(beats))
	assert.Nil(t, DIs(beats[:1]))
	assert.Empty(t, APDs(nil))
}

func TestRunCloneSharesNothing(t *testing.T) {
	run := Run{
		ID:       "a",
		Status:   RunCompleted,
		Series:   map[string][]Point{"Vm": {{Time: 1, Value: 0.5}}},
		Beats:    map[string][]Beat{"Vm": {{UpTime: 1, DownTime: 2}}},
		Extremes: map[string]Extremes{"Jin": {Min: -1, Max: 1, Count: 3}},
		Onsets:   []float64{10, 20},
	}
	clone := run.Clone()
	assert.Equal(t, run, clone)

	clone.Series["Vm"][0].Value = 9
	clone.Series["Jin"] = nil
	clone.Beats["Vm"][0].DownTime = 9
	clone.Extremes["Jin"] = Extremes{}
	clone.Onsets[0] = 0

	assert.Equal(t, 0.5, run.Series["Vm"][0].Value)
	assert.NotContains(t, run.Series, "Jin")
	assert.Equal(t, 2.0, run.Beats["Vm"][0].DownTime)
	assert.Equal(t, 3, run.Extremes["Jin"].Count)
	assert.Equal(t, 10.0, run.Onsets[0])
	assert.True(t, run.Valid())
}
