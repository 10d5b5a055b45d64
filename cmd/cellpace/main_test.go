package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/cellpace/internal/calculator"
	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"tau_close=300", " tau_open = 100 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"tau_close": 300, "tau_open": 100}, got)

	got, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"tau_close", "=1", "tau_close=fast"} {
		_, err := parseParams([]string{bad})
		assert.Error(t, err, bad)
	}
}

func withConfigFile(t *testing.T, name, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if body != "" {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
}

func parsedFlags(t *testing.T, args ...string) (*cobra.Command, *pipelineFlags) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	flags := addPipelineFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, flags
}

func TestResolveConfigPrecedence(t *testing.T) {
	withConfigFile(t, "config.toml", `
model = "aliev-panfilov"
s1 = 400
s2 = 280

[apdPoints]
threshhold = 0.2
`)
	cmd, flags := parsedFlags(t, "--s2", "250", "--param", "k=9", "--buffer-size", "5")

	cfg, err := resolveConfig(cmd, flags)
	require.NoError(t, err)
	defaults, err := calculator.Defaults(calculator.AlievPanfilovName)
	require.NoError(t, err)

	assert.Equal(t, calculator.AlievPanfilovName, cfg.Model)
	assert.Equal(t, 400.0, cfg.S1)
	assert.Equal(t, 250.0, cfg.S2)
	assert.Equal(t, 0.2, cfg.APDPoints.Threshold)
	assert.Equal(t, 5, cfg.PointBuffer.BufferSize)
	assert.Equal(t, 9.0, cfg.Params["k"])
	assert.Equal(t, defaults.NS1, cfg.NS1)
	assert.Equal(t, defaults.Timestep, cfg.Timestep)
}

func TestResolveConfigFlagModelWins(t *testing.T) {
	withConfigFile(t, "config.yaml", "model: aliev-panfilov\nns1: 3\n")
	cmd, flags := parsedFlags(t, "--model", calculator.MitchellSchaefferName)

	cfg, err := resolveConfig(cmd, flags)
	require.NoError(t, err)
	assert.Equal(t, calculator.MitchellSchaefferName, cfg.Model)
	assert.Equal(t, 3, cfg.NS1)
	assert.Equal(t, []string{"Vm"}, cfg.VoltageVariables)
}

func TestResolveConfigErrors(t *testing.T) {
	withConfigFile(t, "config.toml", "")

	cmd, flags := parsedFlags(t, "--model", "hodgkin-huxley")
	_, err := resolveConfig(cmd, flags)
	assert.ErrorIs(t, err, calculator.ErrModelNotFound)

	cmd, flags = parsedFlags(t, "--ns1", "0")
	_, err = resolveConfig(cmd, flags)
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "ns1", cerr.Field)
}

func TestResolveConfigRejectsUnknownKeys(t *testing.T) {
	withConfigFile(t, "config.toml", "s3 = 100\n")
	cmd, flags := parsedFlags(t)
	_, err := resolveConfig(cmd, flags)
	assert.ErrorContains(t, err, "unknown keys s3")
}

func TestDefaultConfigTemplateLoadsEmpty(t *testing.T) {
	withConfigFile(t, "config.toml", defaultConfigTemplate())
	ov, err := config.LoadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Overrides{}, ov)
}

func TestSweepIntervals(t *testing.T) {
	got, err := sweepIntervals(200, 300, 50)
	require.NoError(t, err)
	assert.Equal(t, []float64{200, 250, 300}, got)

	got, err = sweepIntervals(200, 290, 50)
	require.NoError(t, err)
	assert.Equal(t, []float64{200, 250}, got)

	got, err = sweepIntervals(0.1, 0.3, 0.1)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = sweepIntervals(200, 100, 10)
	assert.Error(t, err)
	_, err = sweepIntervals(200, 300, 0)
	assert.Error(t, err)
}

func TestSweepS2(t *testing.T) {
	base, err := calculator.Defaults(calculator.MitchellSchaefferName)
	require.NoError(t, err)
	base.NS1 = 2
	base.S1 = 400
	base.S1S2Points.Enabled = false

	points, err := sweepS2(context.Background(), base, []float64{450, 500}, "Vm", 2, slog.Default())
	require.NoError(t, err)
	require.Len(t, points, 2)

	byS2 := make(map[float64]float64)
	for _, p := range points {
		assert.Greater(t, p.APD, 0.0)
		assert.Greater(t, p.DI, 0.0)
		byS2[p.S2] = p.APD
	}
	require.Contains(t, byS2, 450.0)
	require.Contains(t, byS2, 500.0)
	assert.GreaterOrEqual(t, byS2[500], byS2[450])
	assert.False(t, base.S1S2Points.Enabled)
}

func TestSweepS2Cancelled(t *testing.T) {
	base, err := calculator.Defaults(calculator.MitchellSchaefferName)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sweepS2(ctx, base, []float64{300, 350, 400}, "Vm", 1, slog.Default())
	assert.ErrorIs(t, err, context.Canceled)
}

func execute(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"--config", filepath.Join(dir, "config.toml"),
		"--db", filepath.Join(dir, "runs.db"),
	}, args...))
	require.NoError(t, root.Execute(), out.String())
	return out.String()
}

func TestConfigPrint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("ns1 = 4\n"), 0o644))

	out := execute(t, dir, "config", "--print", "--s2", "250")
	cfg, err := config.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, 250.0, cfg.S2)
	assert.Equal(t, 4, cfg.NS1)
	assert.Equal(t, defaultModel, cfg.Model)
}

func TestModelsCommand(t *testing.T) {
	out := execute(t, t.TempDir(), "models")
	for _, name := range calculator.Names() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "variables: v, h, Vm, Jin, Jout, Jstim")
}

func TestRunSavesAndLists(t *testing.T) {
	dir := t.TempDir()
	out := execute(t, dir, "run", "--ns1", "1", "--s2", "300", "--duration", "500")
	assert.Contains(t, out, "Vm")

	out = execute(t, dir, "runs", "list", "--model", defaultModel)
	assert.Contains(t, out, defaultModel)
	assert.Contains(t, out, "completed")
	assert.NotContains(t, out, "No runs found.")

	out = execute(t, dir, "runs", "list", "--model", calculator.AlievPanfilovName)
	assert.Contains(t, out, "No runs found.")
}

func TestRunsRerunReusesStoredConfig(t *testing.T) {
	dir := t.TempDir()
	execute(t, dir, "run", "--ns1", "1", "--s2", "275", "--duration", "400")

	st, err := openStore()
	require.NoError(t, err)
	runs, err := st.ListRuns(context.Background(), model.RunFilter{})
	closeStore(st)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	out := execute(t, dir, "runs", "rerun", runs[0].ID)
	assert.Contains(t, out, "Pacing: 1 x S1=500 ms, S2=275 ms")

	st, err = openStore()
	require.NoError(t, err)
	defer closeStore(st)
	runs, err = st.ListRuns(context.Background(), model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, 275.0, r.S2)
		assert.Equal(t, model.RunCompleted, r.Status)
	}
}
