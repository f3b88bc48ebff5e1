// Package tui is the terminal front end for a single render: it starts the
// job, draws a progress bar and reports the output URL.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"edcomposer/internal/render"
)

const (
	padding  = 2
	maxWidth = 72
)

// Controller is the part of the orchestrator the UI drives.
type Controller interface {
	Start(req render.Request) (render.Snapshot, error)
	Cancel() bool
}

type (
	snapshotMsg render.Snapshot
	outcomeMsg  render.Outcome
	startErrMsg struct{ err error }
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#BD93F9"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5555"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C"))
)

// Model renders one render lifecycle.
type Model struct {
	ctrl     Controller
	req      render.Request
	topic    string
	progress progress.Model

	snap      render.Snapshot
	outcome   *render.Outcome
	err       error
	cancelled bool
}

func NewModel(ctrl Controller, req render.Request, topic string) Model {
	return Model{
		ctrl:     ctrl,
		req:      req,
		topic:    topic,
		progress: progress.New(progress.WithDefaultGradient()),
		snap:     render.Snapshot{Status: render.StatusIdle},
	}
}

// Outcome returns the terminal outcome, if one arrived.
func (m Model) Outcome() (render.Outcome, bool) {
	if m.outcome == nil {
		return render.Outcome{}, false
	}
	return *m.outcome, true
}

// Cancelled reports whether the user asked to stop.
func (m Model) Cancelled() bool { return m.cancelled }

// Err returns the error that kept the render from starting.
func (m Model) Err() error { return m.err }

func (m Model) Init() tea.Cmd {
	ctrl, req := m.ctrl, m.req
	return func() tea.Msg {
		// Snapshots arrive through the orchestrator callback.
		if _, err := ctrl.Start(req); err != nil {
			return startErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			first := !m.cancelled
			m.cancelled = true
			if first && m.snap.Status.IsActive() && m.ctrl.Cancel() {
				// The cancelled outcome ends the program.
				return m, nil
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.progress.Width = max(10, min(msg.Width-padding*2-4, maxWidth))
		return m, nil

	case snapshotMsg:
		snap := render.Snapshot(msg)
		// A late snapshot of an older lifecycle must not rewind the bar.
		if snap.Epoch < m.snap.Epoch {
			return m, nil
		}
		m.snap = snap
		if p, ok := snap.ProgressPercent(); ok {
			return m, m.progress.SetPercent(float64(p) / 100)
		}
		return m, nil

	case outcomeMsg:
		out := render.Outcome(msg)
		m.outcome = &out
		if out.Kind == render.OutcomeSucceeded {
			return m, tea.Sequence(m.progress.SetPercent(1), tea.Quit)
		}
		return m, tea.Quit

	case startErrMsg:
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	pad := strings.Repeat(" ", padding)
	var b strings.Builder

	b.WriteString("\n" + pad + titleStyle.Render("edcomposer") + " " +
		mutedStyle.Render(m.req.CompositionID) + "\n")
	if m.topic != "" {
		b.WriteString(pad + mutedStyle.Render("topic: ") + m.topic + "\n")
	}
	b.WriteString("\n" + pad + m.progress.View() + "\n\n")
	b.WriteString(pad + m.statusLine() + "\n")

	if m.outcome == nil && m.err == nil {
		b.WriteString("\n" + pad + mutedStyle.Render("ctrl+c to cancel") + "\n")
	}
	return b.String()
}

func (m Model) statusLine() string {
	if m.err != nil {
		return errorStyle.Render("could not start: ") + m.err.Error()
	}
	if m.outcome != nil {
		switch m.outcome.Kind {
		case render.OutcomeSucceeded:
			return successStyle.Render("done ") + m.outcome.OutputURL()
		case render.OutcomeCancelled:
			return warnStyle.Render("cancelled")
		default:
			return errorStyle.Render("failed: ") + m.outcome.Detail()
		}
	}

	switch m.snap.Status {
	case render.StatusSubmitting:
		return "submitting job..."
	case render.StatusRendering:
		p, _ := m.snap.ProgressPercent()
		return fmt.Sprintf("rendering %d%%", p)
	default:
		return string(m.snap.Status)
	}
}
