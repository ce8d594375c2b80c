// ABOUTME: Bubbletea model for the pass-through status TUI
// ABOUTME: Defines displayed state, key handling and rendering
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/playthrough"
	psync "github.com/Resonate-Protocol/playthrough/pkg/sync"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model represents the TUI state
type Model struct {
	stats   playthrough.Stats
	monitor string

	// Debug
	showDebug bool
	quitting  bool

	control *Control

	// Dimensions
	width  int
	height int
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Stats   playthrough.Stats
	Monitor string // monitor address, empty when disabled
}

type tickMsg time.Time

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	case tickMsg:
		return m, tickEvery()
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping pass-through...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Playthrough"))
	b.WriteString("\n")
	b.WriteString(m.renderSession())
	b.WriteString(m.renderSync())
	b.WriteString(m.renderCounters())

	if m.showDebug {
		b.WriteString(m.renderDebug())
	}

	b.WriteString(m.renderHelp())
	return b.String()
}

func field(name, value string) string {
	return headerStyle.Render(fmt.Sprintf("%-10s", name+":")) + valueStyle.Render(value) + "\n"
}

// renderSession renders state, devices and format
func (m Model) renderSession() string {
	s := m.stats
	var b strings.Builder

	b.WriteString(field("State", stateText(s.State)))
	b.WriteString(field("Input", orNone(s.Input)))
	b.WriteString(field("Output", orNone(s.Output)))
	b.WriteString(field("Format", orNone(s.Format)))
	if m.monitor != "" {
		b.WriteString(field("Monitor", m.monitor))
	}
	b.WriteString("\n")
	return b.String()
}

// renderSync renders clock offset and buffer headroom
func (m Model) renderSync() string {
	s := m.stats
	var b strings.Builder

	icon, text := qualityText(s.Quality)
	if !s.OffsetComputed {
		text = "waiting for both clocks"
	}
	b.WriteString(field("Sync", icon+" "+text))

	if s.OffsetComputed {
		b.WriteString(field("Offset", fmt.Sprintf("%+.0f frames (margin %d)", s.Offset, s.Margin)))
		b.WriteString(field("Headroom", fmt.Sprintf("%s %d/%d frames", renderBar(int(s.Headroom), s.Capacity, 20), s.Headroom, s.Capacity)))
		b.WriteString(field("Drift", fmt.Sprintf("%+d frames", s.Drift)))
	}
	b.WriteString("\n")
	return b.String()
}

// renderCounters renders buffer statistics
func (m Model) renderCounters() string {
	s := m.stats
	var b strings.Builder

	b.WriteString(field("Buffers", fmt.Sprintf("in %d  out %d", s.CaptureBuffers, s.RenderBuffers)))
	b.WriteString(field("Frames", fmt.Sprintf("captured %d  played %d", s.CapturedFrames, s.RenderedFrames)))

	problems := fmt.Sprintf("underruns %d  overruns %d  dropped %d", s.Underruns, s.Overruns, s.DroppedFrames)
	style := goodStyle
	if s.Underruns+s.Overruns > 0 {
		style = warnStyle
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s", "Glitches:")) + style.Render(problems) + "\n")

	errs := s.CaptureErrors + s.RenderErrors + s.StoreErrors
	if errs > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s", "Errors:")) +
			badStyle.Render(fmt.Sprintf("capture %d  render %d  store %d", s.CaptureErrors, s.RenderErrors, s.StoreErrors)) + "\n")
	}
	return b.String()
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	s := m.stats
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("DEBUG"))
	b.WriteString("\n")
	b.WriteString(field("Run", orNone(s.RunID)))
	b.WriteString(field("First in", sampleTime(s.FirstInputTime)))
	b.WriteString(field("First out", sampleTime(s.FirstOutputTime)))
	b.WriteString(field("Pre-roll", fmt.Sprintf("%d buffers", s.PreRoll)))
	b.WriteString(field("Silent", fmt.Sprintf("%d buffers", s.SilentBuffers)))
	return b.String()
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return "\n" + helpStyle.Render("space:Start/Stop  d:Debug  q:Quit") + "\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if m.control != nil {
			select {
			case m.control.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case " ":
		if m.control != nil {
			select {
			case m.control.Toggle <- struct{}{}:
			default:
			}
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	m.stats = msg.Stats
	if msg.Monitor != "" {
		m.monitor = msg.Monitor
	}
}

func stateText(s playthrough.State) string {
	switch s {
	case playthrough.StateRunning:
		return goodStyle.Render(s.String())
	case playthrough.StateStarting, playthrough.StateStopping:
		return warnStyle.Render(s.String())
	default:
		return s.String()
	}
}

func qualityText(q psync.Quality) (string, string) {
	switch q {
	case psync.QualityGood:
		return goodStyle.Render("✓"), "Locked"
	case psync.QualityDegraded:
		return warnStyle.Render("⚠"), "Degraded (headroom below one buffer)"
	default:
		return badStyle.Render("✗"), "Lost"
	}
}

func sampleTime(t float64) string {
	if t < 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f", t)
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Utility functions
func renderBar(value, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	if value < 0 {
		value = 0
	}
	filled := (value * width) / max
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
