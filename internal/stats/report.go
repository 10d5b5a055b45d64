package stats

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/verte-zerg/cellpace/internal/model"
	"github.com/verte-zerg/cellpace/internal/store"
)

const apdTrendWindow = 3

// Report contains precomputed data for run rendering.
type Report struct {
	Run       model.Run
	Config    string
	Summaries []BeatSummary
}

// RenderOptions sizes plots. Zero values pick terminal defaults.
type RenderOptions struct {
	Width  int
	Height int
	Color  bool
}

// NewReport summarizes the beats of every tracked variable of run.
func NewReport(run model.Run, configText string) Report {
	r := Report{Run: run, Config: configText}
	for _, name := range slices.Sorted(maps.Keys(run.Beats)) {
		r.Summaries = append(r.Summaries, SummarizeBeats(name, run.Beats[name]))
	}
	return r
}

// BuildReport loads a stored run and prepares it for rendering.
func BuildReport(ctx context.Context, st *store.Store, id string) (Report, error) {
	run, configText, err := st.GetRun(ctx, id)
	if err != nil {
		return Report{}, err
	}
	return NewReport(run, configText), nil
}

// RenderReport prints the summary, traces, beats and restitution of a run.
func RenderReport(w io.Writer, r Report, opts RenderOptions) error {
	if err := RenderRunSummary(w, r.Run); err != nil {
		return err
	}
	if err := RenderTraces(w, r.Run, opts); err != nil {
		return err
	}
	for _, sum := range r.Summaries {
		if err := RenderBeatTable(w, sum.Variable, r.Run.Beats[sum.Variable]); err != nil {
			return err
		}
	}
	for _, sum := range r.Summaries {
		curve := RestitutionCurve(r.Run.Beats[sum.Variable], r.Run.S2)
		if err := RenderRestitution(w, "Restitution "+sum.Variable, curve); err != nil {
			return err
		}
	}
	return nil
}

// RenderRunSummary prints the header block of a run.
func RenderRunSummary(w io.Writer, run model.Run) error {
	lines := []string{
		"Run " + run.ID,
		"Model: " + run.Model,
		"Status: " + string(run.Status),
	}
	if run.Error != "" {
		lines = append(lines, "Error: "+run.Error)
	}
	lines = append(lines,
		fmt.Sprintf("Steps: %d (dt=%g ms, %g ms simulated)", run.Steps, run.Timestep, float64(run.Steps)*run.Timestep),
		fmt.Sprintf("Pacing: %d x S1=%g ms, S2=%g ms (onset %g ms)", run.NS1, run.S1, run.S2, run.S2Onset),
	)
	if !run.StartedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Wall time: %s", run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond)))
	}
	for _, name := range slices.Sorted(maps.Keys(run.Extremes)) {
		ext := run.Extremes[name]
		lines = append(lines, fmt.Sprintf("%s range: [%.4g, %.4g]", name, ext.Min, ext.Max))
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	return nil
}

// RenderTraces plots every buffered series of run with pacing markers.
func RenderTraces(w io.Writer, run model.Run, opts RenderOptions) error {
	names := slices.Sorted(maps.Keys(run.Series))
	series := make([]Series, 0, len(names))
	start, end := 0.0, 0.0
	for _, name := range names {
		points := run.Series[name]
		if len(points) == 0 {
			continue
		}
		series = append(series, SeriesFromPoints(name, points))
		if end == 0 {
			start, end = points[0].Time, points[len(points)-1].Time
		}
	}
	width := 0
	if opts.Width > 0 {
		width = PlotWidthFor(opts.Width)
	}
	return PlotTrace(w, series, PlotOptions{
		Title:   "Traces",
		Width:   width,
		Height:  opts.Height,
		Color:   opts.Color,
		Start:   start,
		End:     end,
		Markers: run.Onsets,
	})
}

// RenderBeatTable prints one row per beat of variable.
func RenderBeatTable(w io.Writer, variable string, beats []model.Beat) error {
	if _, err := fmt.Fprintf(w, "Beats (%s)\n", variable); err != nil {
		return err
	}
	if len(beats) == 0 {
		_, err := fmt.Fprintln(w, "No beats detected.")
		return err
	}
	headers := []string{"#", "Up (ms)", "Down (ms)", "APD (ms)", "DI (ms)"}
	rows := make([][]string, 0, len(beats))
	for i, b := range beats {
		di := "-"
		if i > 0 {
			di = fmt.Sprintf("%.2f", b.UpTime-beats[i-1].DownTime)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%.2f", b.UpTime),
			fmt.Sprintf("%.2f", b.DownTime),
			fmt.Sprintf("%.2f", b.APD()),
			di,
		})
	}
	rightAlign := map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}
	for _, line := range FormatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	sum := SummarizeBeats(variable, beats)
	if _, err := fmt.Fprintf(w, "APD mean=%.2f min=%.2f max=%.2f  %s\n", sum.MeanAPD, sum.MinAPD, sum.MaxAPD, Sparkline(model.APDs(beats))); err != nil {
		return err
	}
	if len(beats) > apdTrendWindow {
		trend := APDTrend(beats, apdTrendWindow)
		if _, err := fmt.Fprintf(w, "APD trend (%d-beat mean) last=%.2f  %s\n", apdTrendWindow, trend[len(trend)-1], Sparkline(trend)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	return nil
}

// RenderRestitution prints APD against the preceding DI.
func RenderRestitution(w io.Writer, title string, points []model.RestitutionPoint) error {
	if len(points) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}
	headers := []string{"S2 (ms)", "DI (ms)", "APD (ms)"}
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			fmt.Sprintf("%.1f", p.S2),
			fmt.Sprintf("%.2f", p.DI),
			fmt.Sprintf("%.2f", p.APD),
		})
	}
	for _, line := range FormatTable(headers, rows, map[int]bool{0: true, 1: true, 2: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	return nil
}

// RenderSweep prints the S2 restitution table and curve of a sweep. Points
// are ordered by S2.
func RenderSweep(w io.Writer, points []model.RestitutionPoint, opts RenderOptions) error {
	if len(points) == 0 {
		_, err := fmt.Fprintln(w, "No S2 beats captured.")
		return err
	}
	sorted := slices.Clone(points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].S2 < sorted[j].S2 })
	if err := RenderRestitution(w, "S1-S2 Restitution", sorted); err != nil {
		return err
	}
	apd := make([]float64, len(sorted))
	di := make([]float64, len(sorted))
	for i, p := range sorted {
		apd[i] = p.APD
		di[i] = p.DI
	}
	width := 0
	if opts.Width > 0 {
		width = PlotWidthFor(opts.Width)
	}
	return PlotTrace(w, []Series{{Name: "APD", Values: apd}, {Name: "DI", Values: di}}, PlotOptions{
		Title:  "APD and DI by S2",
		Width:  width,
		Height: opts.Height,
		Color:  opts.Color,
	})
}

// RenderRunList prints stored run summaries.
func RenderRunList(w io.Writer, runs []model.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs found.")
		return err
	}
	headers := []string{"ID", "Started", "Model", "Status", "Steps", "S1", "S2", "NS1", "Beats"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Model,
			string(r.Status),
			strconv.Itoa(r.Steps),
			strconv.FormatFloat(r.S1, 'g', -1, 64),
			strconv.FormatFloat(r.S2, 'g', -1, 64),
			strconv.Itoa(r.NS1),
			strconv.Itoa(r.Beats),
		})
	}
	for _, line := range FormatTable(headers, rows, map[int]bool{4: true, 5: true, 6: true, 7: true, 8: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
