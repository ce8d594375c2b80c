// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels it signals the app through
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control holds channels the TUI uses to signal the application
type Control struct {
	Toggle chan struct{}
	Quit   chan struct{}
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		Toggle: make(chan struct{}, 1),
		Quit:   make(chan struct{}, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(control *Control) Model {
	return Model{
		control: control,
	}
}

// Run creates the TUI program; the caller starts it with Run
func Run(control *Control) *tea.Program {
	return tea.NewProgram(NewModel(control), tea.WithAltScreen())
}
