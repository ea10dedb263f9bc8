package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/streamrun/metrics"
)

// InspectModel is a Bubble Tea model that renders a worker's
// metrics.Snapshot.
type InspectModel struct {
	snapshot metrics.Snapshot
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates an inspect model over snap.
func NewInspectModel(snap metrics.Snapshot) InspectModel {
	return InspectModel{snapshot: snap}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
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
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Worker %s", m.snapshot.WorkerID)))
	b.WriteString("\n\n")

	b.WriteString(m.renderRow("Query", m.snapshot.QueryID))
	b.WriteString("\n")

	b.WriteString(TitleStyle.Render("Buffer Pool"))
	b.WriteString("\n")
	b.WriteString(m.renderRow("Acquired", fmt.Sprintf("%d", m.snapshot.BuffersAcquired)))
	b.WriteString(m.renderRow("Released", fmt.Sprintf("%d", m.snapshot.BuffersReleased)))
	b.WriteString(m.renderRow("Pool Exhausted", fmt.Sprintf("%d", m.snapshot.PoolExhaustedHits)))
	b.WriteString(m.renderRow("Unpooled Allocs", fmt.Sprintf("%d", m.snapshot.UnpooledAllocs)))
	b.WriteString("\n")

	b.WriteString(TitleStyle.Render("Watermark"))
	b.WriteString("\n")
	b.WriteString(m.renderRow("Advanced", fmt.Sprintf("%d", m.snapshot.WatermarksAdvanced)))
	b.WriteString(m.renderRow("Origin Stalls", fmt.Sprintf("%d", m.snapshot.OriginStalls)))
	b.WriteString("\n")

	b.WriteString(TitleStyle.Render("Operators"))
	b.WriteString("\n")
	b.WriteString(m.renderRow("Slices Created", fmt.Sprintf("%d", m.snapshot.SlicesCreated)))
	b.WriteString(m.renderRow("Windows Triggered", fmt.Sprintf("%d", m.snapshot.WindowsTriggered)))
	b.WriteString(m.renderRow("Arena Exhausted", fmt.Sprintf("%d", m.snapshot.ArenaExhausted)))
	b.WriteString("\n")

	b.WriteString(TitleStyle.Render("Network"))
	b.WriteString("\n")
	b.WriteString(m.renderRow("Frames Sent", fmt.Sprintf("%d", m.snapshot.FramesSent)))
	b.WriteString(m.renderRow("Frames Received", fmt.Sprintf("%d", m.snapshot.FramesReceived)))
	b.WriteString(m.renderRow("Channel Rejected", fmt.Sprintf("%d", m.snapshot.ChannelRejected)))
	b.WriteString(m.renderRow("Reconnect Attempts", fmt.Sprintf("%d", m.snapshot.ReconnectAttempts)))

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

func (m InspectModel) renderRow(label, value string) string {
	return fmt.Sprintf("%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

// keyMap defines key bindings shared by the inspect and stats models.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI over snap until the user quits.
func RunInspectTUI(snap metrics.Snapshot) error {
	model := NewInspectModel(snap)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders snap without the full TUI, for
// non-interactive output (e.g. when stdout is not a terminal).
func RenderInspectStatic(snap metrics.Snapshot) string {
	model := NewInspectModel(snap)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
