package transferprogress

import (
	"fmt"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/tui"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

type Option func(*Model)

// Model renders the progress of a single session.
type Model struct {
	TotalBytes uint64
	AckBytes   uint64
	Eta        string
	progress   float64

	Width       int
	progressBar progress.Model
}

func New(opts ...Option) Model {
	m := Model{
		progressBar: tui.Progressbar,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Set copies the progress of snap into the model.
func (m *Model) Set(snap session.Snapshot) {
	m.TotalBytes = snap.TotalBytes
	m.AckBytes = snap.AckBytes
	m.Eta = snap.Eta
	m.progress = snap.Progress
}

func (Model) Init() tea.Cmd {
	return nil
}

func (m Model) View() string {
	stats := fmt.Sprintf("%s / %s, %s remaining",
		tui.ByteCountSI(int64(m.AckBytes)), tui.ByteCountSI(int64(m.TotalBytes)), m.Eta)
	return m.progressBar.ViewAs(m.progress) + "\n" + tui.PadText + tui.HelpStyle(stats)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.Width = msg.Width - 2*tui.MARGIN - 4
		if m.Width > tui.MAX_WIDTH {
			m.Width = tui.MAX_WIDTH
		}
		m.progressBar.Width = m.Width
		return m, nil

	case progress.FrameMsg:
		progressModel, cmd := m.progressBar.Update(msg)
		m.progressBar = progressModel.(progress.Model)
		return m, cmd

	default:
		return m, nil
	}
}
