// Package stats computes beat statistics and renders runs as text.
package stats

import (
	"math"
	"strings"

	"github.com/verte-zerg/cellpace/internal/model"
)

const sparkChars = " .:-=+*#%@"

// BeatSummary aggregates the beats of one tracked variable.
type BeatSummary struct {
	Variable string
	Count    int
	MeanAPD  float64
	MinAPD   float64
	MaxAPD   float64
	LastAPD  float64
	MeanDI   float64
}

// SummarizeBeats computes APD and DI aggregates for beats.
func SummarizeBeats(variable string, beats []model.Beat) BeatSummary {
	sum := BeatSummary{Variable: variable, Count: len(beats)}
	if len(beats) == 0 {
		return sum
	}
	apds := model.APDs(beats)
	sum.MinAPD, sum.MaxAPD = seriesMinMaxSingle(apds)
	sum.MeanAPD = mean(apds)
	sum.LastAPD = apds[len(apds)-1]
	sum.MeanDI = mean(model.DIs(beats))
	return sum
}

// RestitutionCurve pairs every beat after the first with the diastolic
// interval before it. s2 is copied into each point.
func RestitutionCurve(beats []model.Beat, s2 float64) []model.RestitutionPoint {
	if len(beats) < 2 {
		return nil
	}
	out := make([]model.RestitutionPoint, 0, len(beats)-1)
	for i := 1; i < len(beats); i++ {
		out = append(out, model.RestitutionPoint{
			S2:  s2,
			DI:  beats[i].UpTime - beats[i-1].DownTime,
			APD: beats[i].APD(),
		})
	}
	return out
}

// S2Response finds the beat triggered by the S2 stimulus of run on variable:
// the first beat starting at or after the S2 onset, and the diastolic
// interval since the beat before it. ok is false when the S2 pulse did not
// capture or no earlier beat exists.
func S2Response(run model.Run, variable string) (model.RestitutionPoint, bool) {
	beats := run.Beats[variable]
	for i, b := range beats {
		if b.UpTime < run.S2Onset {
			continue
		}
		if i == 0 {
			return model.RestitutionPoint{}, false
		}
		return model.RestitutionPoint{
			S2:  run.S2,
			DI:  b.UpTime - beats[i-1].DownTime,
			APD: b.APD(),
		}, true
	}
	return model.RestitutionPoint{}, false
}

// APDTrend smooths the APD of successive beats with a trailing mean over
// window beats. Leading entries average the beats seen so far.
func APDTrend(beats []model.Beat, window int) []float64 {
	apds := model.APDs(beats)
	if window <= 1 {
		return apds
	}
	out := make([]float64, len(apds))
	var sum float64
	for i, v := range apds {
		sum += v
		n := i + 1
		if i >= window {
			sum -= apds[i-window]
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal, maxVal := seriesMinMaxSingle(values)
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		idx = max(0, min(idx, len(sparkChars)-1))
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
