package calculator

import (
	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
)

// AlievPanfilovName is the registry name of the Aliev-Panfilov model.
const AlievPanfilovName = "aliev-panfilov"

var alievPanfilovVariables = []string{"u", "w", "Vm", "Iion", "Istim"}

var alievPanfilovParams = map[string]float64{
	"k":       8.0,
	"a":       0.15,
	"eps":     0.002,
	"mu1":     0.2,
	"mu2":     0.3,
	"t_scale": 12.9,
	"v_rest":  -80.0,
	"v_amp":   100.0,
}

func init() {
	MustRegister(Spec{
		Name:        AlievPanfilovName,
		Description: "two-variable excitable medium model with restitution (Aliev & Panfilov 1996)",
		Variables:   alievPanfilovVariables,
		New:         func() Calculator { return &AlievPanfilov{} },
		Defaults:    alievPanfilovDefaults,
	})
}

func alievPanfilovDefaults() config.Config {
	return config.Config{
		Model:            AlievPanfilovName,
		Timestep:         0.05,
		S1Start:          10,
		S1:               600,
		NS1:              6,
		S2:               400,
		StimDur:          2,
		StimMag:          2,
		VoltageVariables: []string{"Vm"},
		CurrentVariables: []string{"Iion", "Istim"},
		PointBuffer: config.PointBufferConfig{
			BufferSize:   20,
			MaxPoints:    10000,
			NormalPoints: map[string]config.Range{"Vm": {-80, 20}},
			MinMaxPoints: []string{"Iion"},
		},
		S1S2Points: config.S1S2Config{Enabled: true},
		APDPoints:  config.APDConfig{Threshold: -70},
	}
}

// AlievPanfilov integrates the excitation variable u and the recovery
// variable w. Model time is dimensionless; t_scale converts it to ms.
type AlievPanfilov struct {
	clk clock

	k, a, eps, mu1, mu2 float64
	tScale              float64
	vRest, vAmp         float64

	u, w float64
	ist  float64
	stim bool
}

// Name implements Calculator.
func (m *AlievPanfilov) Name() string { return AlievPanfilovName }

// Initialize implements Calculator.
func (m *AlievPanfilov) Initialize(cfg config.Config) error {
	if err := checkVariables(cfg, alievPanfilovVariables); err != nil {
		return err
	}
	p, err := resolveParams(alievPanfilovParams, cfg.Params)
	if err != nil {
		return err
	}
	if p["t_scale"] <= 0 {
		return config.Errorf("params.t_scale", "must be > 0, got %g", p["t_scale"])
	}
	if p["mu2"] <= 0 {
		return config.Errorf("params.mu2", "must be > 0, got %g", p["mu2"])
	}
	clk, err := newClock(cfg)
	if err != nil {
		return err
	}
	m.clk = clk
	m.k, m.a, m.eps = p["k"], p["a"], p["eps"]
	m.mu1, m.mu2 = p["mu1"], p["mu2"]
	m.tScale = p["t_scale"]
	m.vRest, m.vAmp = p["v_rest"], p["v_amp"]
	m.u, m.w = 0, 0
	m.ist, m.stim = 0, false
	return nil
}

// Reset implements Calculator.
func (m *AlievPanfilov) Reset(cfg config.Config) error {
	return m.Initialize(cfg)
}

func (m *AlievPanfilov) ionic() float64 {
	return m.k*m.u*(m.u-m.a)*(m.u-1) + m.u*m.w
}

// Step implements Calculator.
func (m *AlievPanfilov) Step() model.Snapshot {
	ist, on := m.clk.stimulus()
	du := (-m.ionic() + ist) / m.tScale
	dw := (m.eps + m.mu1*m.w/(m.u+m.mu2)) * (-m.w - m.k*m.u*(m.u-m.a-1)) / m.tScale
	m.u += m.clk.dt * du
	m.w += m.clk.dt * dw
	m.ist, m.stim = ist, on
	m.clk.step++
	return m.Snapshot()
}

// Snapshot implements Calculator.
func (m *AlievPanfilov) Snapshot() model.Snapshot {
	return snapshot(m.clk.now(), m.stim, map[string]float64{
		"u":     m.u,
		"w":     m.w,
		"Vm":    m.vRest + m.vAmp*m.u,
		"Iion":  m.ionic(),
		"Istim": m.ist,
	})
}
