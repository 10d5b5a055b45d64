package calculator

import (
	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

// MitchellSchaefferName is the registry name of the Mitchell-Schaeffer model.
const MitchellSchaefferName = "mitchell-schaeffer"

var mitchellSchaefferVariables = []string{"v", "h", "Vm", "Jin", "Jout", "Jstim"}

var mitchellSchaefferParams = map[string]float64{
	"tau_in":    0.3,
	"tau_out":   6.0,
	"tau_open":  120.0,
	"tau_close": 150.0,
	"v_gate":    0.13,
	"v_rest":    -85.0,
	"v_peak":    15.0,
}

func init() {
	MustRegister(Spec{
		Name:        MitchellSchaefferName,
		Description: "two-variable gated inward/outward current model (Mitchell & Schaeffer 2003)",
		Variables:   mitchellSchaefferVariables,
		New:         func() Calculator { return &MitchellSchaeffer{} },
		Defaults:    mitchellSchaefferDefaults,
	})
}

func mitchellSchaefferDefaults() config.Config {
	return config.Config{
		Model:            MitchellSchaefferName,
		Timestep:         0.05,
		S1Start:          10,
		S1:               500,
		NS1:              8,
		S2:               300,
		StimDur:          1,
		StimMag:          0.2,
		VoltageVariables: []string{"Vm"},
		CurrentVariables: []string{"Jin", "Jout", "Jstim"},
		PointBuffer: config.PointBufferConfig{
			BufferSize:   20,
			MaxPoints:    10000,
			NormalPoints: map[string]config.Range{"Vm": {-85, 15}},
			MinMaxPoints: []string{"Jin", "Jout"},
		},
		S1S2Points: config.S1S2Config{Enabled: true},
		APDPoints:  config.APDConfig{Threshold: -70},
	}
}

// MitchellSchaeffer integrates the dimensionless membrane variable v and the
// inactivation gate h with forward Euler.
type MitchellSchaeffer struct {
	clk clock

	tauIn, tauOut, tauOpen, tauClose float64
	vGate, vRest, vPeak              float64

	v, h float64
	jst  float64
	stim bool
}

// Name implements Calculator.
func (m *MitchellSchaeffer) Name() string { return MitchellSchaefferName }

// Initialize implements Calculator.
func (m *MitchellSchaeffer) Initialize(cfg config.Config) error {
	if err := checkVariables(cfg, mitchellSchaefferVariables); err != nil {
		return err
	}
	p, err := resolveParams(mitchellSchaefferParams, cfg.Params)
	if err != nil {
		return err
	}
	for _, name := range []string{"tau_in", "tau_out", "tau_open", "tau_close"} {
		if p[name] <= 0 {
			return config.Errorf("params."+name, "must be > 0, got %g", p[name])
		}
	}
	clk, err := newClock(cfg)
	if err != nil {
		return err
	}
	m.clk = clk
	m.tauIn, m.tauOut = p["tau_in"], p["tau_out"]
	m.tauOpen, m.tauClose = p["tau_open"], p["tau_close"]
	m.vGate, m.vRest, m.vPeak = p["v_gate"], p["v_rest"], p["v_peak"]
	m.v, m.h = 0, 1
	m.jst, m.stim = 0, false
	return nil
}

// Reset implements Calculator.
func (m *MitchellSchaeffer) Reset(cfg config.Config) error {
	return m.Initialize(cfg)
}

func (m *MitchellSchaeffer) currents() (jin, jout float64) {
	jin = m.h * m.v * m.v * (1 - m.v) / m.tauIn
	jout = -m.v / m.tauOut
	return jin, jout
}

// Step implements Calculator.
func (m *MitchellSchaeffer) Step() model.Snapshot {
	jst, on := m.clk.stimulus()
	jin, jout := m.currents()
	dv := jin + jout + jst
	var dh float64
	if m.v < m.vGate {
		dh = (1 - m.h) / m.tauOpen
	} else {
		dh = -m.h / m.tauClose
	}
	m.v += m.clk.dt * dv
	m.h += m.clk.dt * dh
	m.jst, m.stim = jst, on
	m.clk.step++
	return m.Snapshot()
}

// Snapshot implements Calculator.
func (m *MitchellSchaeffer) Snapshot() model.Snapshot {
	jin, jout := m.currents()
	return snapshot(m.clk.now(), m.stim, map[string]float64{
		"v":     m.v,
		"h":     m.h,
		"Vm":    m.vRest + m.v*(m.vPeak-m.vRest),
		"Jin":   jin,
		"Jout":  jout,
		"Jstim": m.jst,
	})
}
