// Package viewer provides the Bubble Tea run viewer.
package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/cellpace/internal/config"
	"github.com/verte-zerg/cellpace/internal/model"
	"github.com/verte-zerg/cellpace/internal/runner"
	"github.com/verte-zerg/cellpace/internal/stats"
	"github.com/verte-zerg/cellpace/internal/store"
)

const (
	tabTraces = iota
	tabBeats
	tabSummary
)

const (
	plotHeight = 10
)

const (
	fieldS1 = iota
	fieldS2
	fieldNS1
	fieldDuration
	fieldThreshold
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// runFinishedMsg carries the result of one submitted run.
type runFinishedMsg struct {
	seq uint64
	run model.Run
	err error
}

type runSavedMsg struct {
	id  string
	err error
}

// Model implements the Bubble Tea run viewer.
type Model struct {
	controller *runner.Controller
	store      *store.Store
	logger     *slog.Logger
	cfg        config.Config

	run     model.Run
	hasRun  bool
	last    model.Run // last completed run, kept while run is partial
	hasLast bool
	running bool
	seq     uint64
	errMsg  string
	saved   string

	tabs      []string
	activeTab int
	viewports []viewport.Model
	beatTable table.Model

	width  int
	height int

	settingsMode   bool
	settingsInputs []textinput.Model
	settingsIndex  int
	settingsError  string
}

// Option configures a Model.
type Option func(*Model)

// WithStore saves every completed run to st.
func WithStore(st *store.Store) Option {
	return func(m *Model) {
		m.store = st
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewModel constructs a viewer that runs cfg through ctrl on start.
func NewModel(ctrl *runner.Controller, cfg config.Config, opts ...Option) *Model {
	m := &Model{
		controller: ctrl,
		cfg:        cfg.Clone(),
		logger:     slog.Default(),
		tabs:       []string{"Traces", "Beats", "Summary"},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initInputs()
	m.beatTable = buildBeatTable(nil, 0, 1)
	m.initViewports()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.submit()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case runFinishedMsg:
		return m.handleRunFinished(msg)
	case runSavedMsg:
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("failed to save run: %v", msg.err)
		} else {
			m.saved = msg.id
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || (!m.settingsMode && msg.String() == "q") {
			m.controller.Cancel()
			return m, tea.Quit
		}
		if m.activeTab == tabBeats {
			m.beatTable.Focus()
		} else {
			m.beatTable.Blur()
		}
		if m.settingsMode {
			return m.updateSettings(msg)
		}
		switch msg.String() {
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "/":
			return m.startSettings()
		case "r":
			return m, m.submit()
		case "c":
			m.controller.Cancel()
			return m, nil
		case "g", "home":
			if m.activeTab == tabBeats {
				m.beatTable.GotoTop()
			} else {
				m.viewports[m.activeTab].GotoTop()
			}
			return m, nil
		case "G", "end":
			if m.activeTab == tabBeats {
				m.beatTable.GotoBottom()
			} else {
				m.viewports[m.activeTab].GotoBottom()
			}
			return m, nil
		default:
			if m.activeTab == tabBeats {
				var cmd tea.Cmd
				m.beatTable, cmd = m.beatTable.Update(msg)
				return m, cmd
			}
			vp := m.viewports[m.activeTab]
			var cmd tea.Cmd
			vp, cmd = vp.Update(msg)
			m.viewports[m.activeTab] = vp
			return m, cmd
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(bodyHeight), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

// submit starts a run with the current configuration. The controller
// cancels whatever run is still in flight; its result arrives with an older
// sequence number and is dropped.
func (m *Model) submit() tea.Cmd {
	m.seq++
	m.running = true
	m.errMsg = ""
	seq := m.seq
	cfg := m.cfg.Clone()
	ctrl := m.controller
	return func() tea.Msg {
		run, err := ctrl.Submit(context.Background(), cfg)
		return runFinishedMsg{seq: seq, run: run, err: err}
	}
}

func (m *Model) handleRunFinished(msg runFinishedMsg) (tea.Model, tea.Cmd) {
	if msg.seq != m.seq {
		return m, nil
	}
	m.running = false
	if msg.err != nil && msg.run.ID == "" {
		m.errMsg = msg.err.Error()
		return m, nil
	}
	m.run = msg.run
	m.hasRun = true
	m.saved = ""
	m.last, m.hasLast = model.Run{}, false
	if !msg.run.Valid() {
		m.last, m.hasLast = m.controller.LastCompleted()
	}
	switch {
	case msg.err == nil:
		m.errMsg = ""
	case errors.Is(msg.err, context.Canceled):
		m.errMsg = "run cancelled"
	default:
		m.errMsg = msg.err.Error()
	}
	m.refreshBeatTable()
	m.renderTabContents()
	if !msg.run.Valid() || m.store == nil {
		return m, nil
	}
	return m, m.save(msg.run)
}

func (m *Model) save(run model.Run) tea.Cmd {
	st := m.store
	cfg := m.cfg.Clone()
	logger := m.logger
	return func() tea.Msg {
		text, err := config.Encode(cfg)
		if err != nil {
			return runSavedMsg{err: err}
		}
		if err := st.InsertRun(context.Background(), run, text); err != nil {
			logger.Error("failed to save run", "run", run.ID, "err", err)
			return runSavedMsg{err: err}
		}
		return runSavedMsg{id: run.ID}
	}
}

func (m *Model) initViewports() {
	m.viewports = make([]viewport.Model, len(m.tabs))
	for i := range m.viewports {
		m.viewports[i] = viewport.New(0, 0)
	}
}

func (m *Model) initInputs() {
	m.settingsInputs = []textinput.Model{
		fieldS1:        newSettingsInput("S1 (ms): "),
		fieldS2:        newSettingsInput("S2 (ms): "),
		fieldNS1:       newSettingsInput("NS1: "),
		fieldDuration:  newSettingsInput("Duration (ms, 0=auto): "),
		fieldThreshold: newSettingsInput("APD threshold: "),
	}
	m.setInputsFromConfig()
}

func newSettingsInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) setInputsFromConfig() {
	if len(m.settingsInputs) == 0 {
		return
	}
	m.settingsInputs[fieldS1].SetValue(formatFloat(m.cfg.S1))
	m.settingsInputs[fieldS2].SetValue(formatFloat(m.cfg.S2))
	m.settingsInputs[fieldNS1].SetValue(strconv.Itoa(m.cfg.NS1))
	m.settingsInputs[fieldDuration].SetValue(formatFloat(m.cfg.Duration))
	m.settingsInputs[fieldThreshold].SetValue(formatFloat(m.cfg.APDPoints.Threshold))
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := max(lipgloss.Height(activeNavStyle.Render("X")), 1)
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if !m.settingsMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = max(m.height-headerHeight-footerHeight, 1)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, vpHeight, _ := m.layoutHeights()
	for i := range m.viewports {
		m.viewports[i].Width = m.width
		m.viewports[i].Height = vpHeight
	}
	m.beatTable.SetWidth(m.width)
	m.beatTable.SetHeight(max(1, vpHeight-1))
	for i := range m.settingsInputs {
		promptWidth := lipgloss.Width(m.settingsInputs[i].Prompt)
		m.settingsInputs[i].Width = max(10, m.width-promptWidth-2)
	}
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	if count == 0 {
		return
	}
	m.activeTab = (m.activeTab + delta + count) % count
	if m.activeTab == tabBeats {
		m.beatTable.Focus()
	} else {
		m.beatTable.Blur()
	}
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	tabs := padLines(m.renderTabs(), m.width)
	settings := padLines(m.renderSettingsSummary(), m.width)
	return tabs + "\n" + settings
}

func (m *Model) renderSettingsSummary() string {
	state := "idle"
	switch {
	case m.running:
		state = "running"
	case m.hasRun:
		state = string(m.run.Status)
	}
	summary := fmt.Sprintf("%s  s1=%s  s2=%s  ns1=%d  duration=%s  threshold=%s  [%s]",
		m.cfg.Model,
		formatFloat(m.cfg.S1),
		formatFloat(m.cfg.S2),
		m.cfg.NS1,
		durationLabel(m.cfg),
		formatFloat(m.cfg.APDPoints.Threshold),
		state,
	)
	if m.saved != "" {
		summary += "  saved " + m.saved
	}
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderHelp() string {
	return headerStyle.Render("Nav: left/right  Scroll: up/down/pgup/pgdn  Settings: /  Rerun: r  Cancel: c  Quit: q")
}

func (m *Model) renderSettingsHelp() string {
	return headerStyle.Render("tab/shift+tab: next field  enter: apply and rerun  esc: cancel")
}

func (m *Model) renderFooter() string {
	if m.settingsMode {
		return m.renderSettingsHelp()
	}
	if m.errMsg != "" {
		return m.renderHelp() + "\n" + errorStyle.Render(truncateLine(m.errMsg, m.width))
	}
	return m.renderHelp()
}

func (m *Model) renderSettingsForm() string {
	lines := []string{"Settings (enter to apply, esc to cancel)"}
	for _, input := range m.settingsInputs {
		lines = append(lines, input.View())
	}
	if m.settingsError != "" {
		lines = append(lines, errorStyle.Render(m.settingsError))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderBody(height int) string {
	if m.settingsMode {
		return fitLines(m.renderSettingsForm(), m.width, height)
	}
	if !m.hasRun {
		msg := "No run yet."
		if m.running {
			msg = "Running..."
		}
		return fitLines(msg, m.width, height)
	}
	if m.activeTab == tabBeats {
		if len(m.beatTable.Rows()) == 0 {
			return fitLines("No beats detected.", m.width, height)
		}
		return fitLines(tableMutedStyle.Render(m.beatTable.View()), m.width, height)
	}
	return fitLines(m.viewports[m.activeTab].View(), m.width, height)
}

func (m *Model) renderTabContents() {
	if len(m.viewports) == 0 || !m.hasRun {
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.viewports[tabTraces].SetContent(renderTraces(m.run, width))
	summary := renderSummary(m.run, width)
	if m.hasLast {
		summary += "\n\n" + headerStyle.Render("Last completed run "+m.last.ID) + "\n" + renderSummary(m.last, width)
	}
	m.viewports[tabSummary].SetContent(summary)
}

func renderTraces(run model.Run, width int) string {
	var buf bytes.Buffer
	if err := stats.RenderTraces(&buf, run, stats.RenderOptions{Width: width, Height: plotHeight, Color: true}); err != nil {
		return fmt.Sprintf("Failed to render traces: %v", err)
	}
	if buf.Len() == 0 {
		return "No points recorded."
	}
	return strings.TrimRight(buf.String(), "\n")
}

func renderSummary(run model.Run, width int) string {
	names := slices.Sorted(maps.Keys(run.Beats))
	cards := []string{
		metricCard("Status", string(run.Status)),
		metricCard("Steps", strconv.Itoa(run.Steps)),
		metricCard("Simulated", fmt.Sprintf("%.0f ms", float64(run.Steps)*run.Timestep)),
	}
	for _, name := range names {
		sum := stats.SummarizeBeats(name, run.Beats[name])
		cards = append(cards,
			metricCard(name+" beats", strconv.Itoa(sum.Count)),
			metricCard(name+" mean APD", fmt.Sprintf("%.1f ms", sum.MeanAPD)),
		)
		if p, ok := stats.S2Response(run, name); ok {
			cards = append(cards, metricCard(name+" S2 APD", fmt.Sprintf("%.1f ms (DI %.1f)", p.APD, p.DI)))
		}
	}
	var out string
	if width < 80 {
		out = strings.Join(cards, "\n")
	} else {
		rows := make([]string, 0, len(cards)/3+1)
		for i := 0; i < len(cards); i += 3 {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards[i:min(i+3, len(cards))]...))
		}
		out = lipgloss.JoinVertical(lipgloss.Left, rows...)
	}
	if run.Error != "" {
		out += "\n" + errorStyle.Render(run.Error)
	}
	return out
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func (m *Model) refreshBeatTable() {
	_, bodyHeight, _ := m.layoutHeights()
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.beatTable = buildBeatTable(m.run.Beats, width, bodyHeight)
	if m.activeTab == tabBeats {
		m.beatTable.Focus()
	}
}

func buildBeatTable(beats map[string][]model.Beat, width, height int) table.Model {
	columns := []table.Column{
		{Title: "Variable", Width: 10},
		{Title: "#", Width: 4},
		{Title: "Up (ms)", Width: 10},
		{Title: "Down (ms)", Width: 10},
		{Title: "APD (ms)", Width: 9},
		{Title: "DI (ms)", Width: 9},
	}
	var rows []table.Row
	for _, name := range slices.Sorted(maps.Keys(beats)) {
		list := beats[name]
		for i, b := range list {
			di := "-"
			if i > 0 {
				di = fmt.Sprintf("%.2f", b.UpTime-list[i-1].DownTime)
			}
			rows = append(rows, table.Row{
				name,
				strconv.Itoa(i + 1),
				fmt.Sprintf("%.2f", b.UpTime),
				fmt.Sprintf("%.2f", b.DownTime),
				fmt.Sprintf("%.2f", b.APD()),
				di,
			})
		}
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(max(1, height-1)),
	)
	t.SetWidth(width)
	t.SetStyles(beatTableStyles())
	return t
}

func beatTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) startSettings() (tea.Model, tea.Cmd) {
	m.settingsMode = true
	m.settingsError = ""
	m.setInputsFromConfig()
	return m, m.setSettingsIndex(0)
}

func (m *Model) updateSettings(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.settingsMode = false
		m.settingsError = ""
		return m, nil
	case tea.KeyEnter:
		if err := m.applySettings(); err != nil {
			m.settingsError = err.Error()
			return m, nil
		}
		m.settingsMode = false
		m.settingsError = ""
		return m, m.submit()
	case tea.KeyTab:
		return m, m.setSettingsIndex(m.settingsIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setSettingsIndex(m.settingsIndex - 1)
	}
	var cmd tea.Cmd
	m.settingsInputs[m.settingsIndex], cmd = m.settingsInputs[m.settingsIndex].Update(msg)
	return m, cmd
}

func (m *Model) setSettingsIndex(idx int) tea.Cmd {
	count := len(m.settingsInputs)
	if count == 0 {
		return nil
	}
	m.settingsIndex = (idx + count) % count
	var cmd tea.Cmd
	for i := range m.settingsInputs {
		if i == m.settingsIndex {
			cmd = m.settingsInputs[i].Focus()
		} else {
			m.settingsInputs[i].Blur()
		}
	}
	return cmd
}

// applySettings parses the form into an override layer. The current
// configuration is replaced only if the merged result validates.
func (m *Model) applySettings() error {
	s1, err := parseFloatField(m.settingsInputs[fieldS1], "s1")
	if err != nil {
		return err
	}
	s2, err := parseFloatField(m.settingsInputs[fieldS2], "s2")
	if err != nil {
		return err
	}
	ns1, err := strconv.Atoi(strings.TrimSpace(m.settingsInputs[fieldNS1].Value()))
	if err != nil {
		return fmt.Errorf("invalid ns1 (use integer)")
	}
	duration, err := parseFloatField(m.settingsInputs[fieldDuration], "duration")
	if err != nil {
		return err
	}
	threshold, err := parseFloatField(m.settingsInputs[fieldThreshold], "threshold")
	if err != nil {
		return err
	}
	next := config.Merge(m.cfg, config.Overrides{
		S1:        &s1,
		S2:        &s2,
		NS1:       &ns1,
		Duration:  &duration,
		APDPoints: &config.APDOverrides{Threshold: &threshold},
	})
	if err := next.Validate(); err != nil {
		return err
	}
	m.cfg = next
	return nil
}

func parseFloatField(input textinput.Model, name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(input.Value()), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (use a number)", name)
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func durationLabel(cfg config.Config) string {
	if cfg.Duration > 0 {
		return formatFloat(cfg.Duration)
	}
	return "auto(" + formatFloat(cfg.EffectiveDuration()) + ")"
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
