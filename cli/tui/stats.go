package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/streamrun/metrics"
)

// StatsModel is a Bubble Tea model showing a compact dashboard of a
// worker's headline counters, refreshed on each PollMsg.
type StatsModel struct {
	snapshot metrics.Snapshot
	width    int
	height   int
	quitting bool
}

// PollMsg carries a refreshed metrics.Snapshot into the running
// program; callers send it on their own polling cadence via
// tea.Program.Send.
type PollMsg metrics.Snapshot

// NewStatsModel creates a stats dashboard model over snap.
func NewStatsModel(snap metrics.Snapshot) StatsModel {
	return StatsModel{snapshot: snap}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case PollMsg:
		m.snapshot = metrics.Snapshot(msg)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	content := TitleStyle.Render(fmt.Sprintf("Worker %s Dashboard", m.snapshot.WorkerID)) + "\n\n"

	poolBoxes := []string{
		m.renderStatBox("Acquired", m.snapshot.BuffersAcquired, highlightColor),
		m.renderStatBox("Released", m.snapshot.BuffersReleased, successColor),
		m.renderStatBox("Exhausted", m.snapshot.PoolExhaustedHits, warningColor),
	}
	content += lipgloss.JoinHorizontal(lipgloss.Top, poolBoxes...) + "\n\n"

	opBoxes := []string{
		m.renderStatBox("Windows", m.snapshot.WindowsTriggered, highlightColor),
		m.renderStatBox("Stalls", m.snapshot.OriginStalls, warningColor),
		m.renderStatBox("Arena Exh.", m.snapshot.ArenaExhausted, errorColor),
	}
	content += lipgloss.JoinHorizontal(lipgloss.Top, opBoxes...) + "\n\n"

	netBoxes := []string{
		m.renderStatBox("Frames Out", m.snapshot.FramesSent, highlightColor),
		m.renderStatBox("Frames In", m.snapshot.FramesReceived, highlightColor),
		m.renderStatBox("Rejected", m.snapshot.ChannelRejected, errorColor),
	}
	content += lipgloss.JoinHorizontal(lipgloss.Top, netBoxes...)

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats dashboard TUI over snap.
func RunStatsTUI(snap metrics.Snapshot) error {
	model := NewStatsModel(snap)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders the dashboard without the full TUI.
func RenderStatsStatic(snap metrics.Snapshot) string {
	model := NewStatsModel(snap)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
