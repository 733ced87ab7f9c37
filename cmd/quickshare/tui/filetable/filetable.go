// Package filetable lists the files of a transfer.
package filetable

import (
	"os"
	"path/filepath"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/tui"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	defaultMaxRows = 4
	// nameShare is the part of the table width given to the file column.
	nameShare = 0.8
)

var style = tui.BaseStyle.Copy().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color(tui.SECONDARY_COLOR)).
	MarginLeft(tui.MARGIN)

type Option func(m *Model)

func WithMaxRows(n int) Option {
	return func(m *Model) {
		m.MaxRows = n
	}
}

type entry struct {
	name string
	size string
}

// Model is a scrollable table of file names and, for files on this machine,
// their sizes.
type Model struct {
	Width   int
	MaxRows int
	entries []entry
	table   table.Model
}

func New(opts ...Option) Model {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(tui.SECONDARY_COLOR)).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color(tui.DARK_COLOR)).
		Background(lipgloss.Color(tui.SECONDARY_ELEMENT_COLOR)).
		Bold(false)

	m := Model{
		MaxRows: defaultMaxRows,
		table:   table.New(table.WithFocused(true), table.WithStyles(styles)),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.layout()
	return m
}

// SetFiles replaces the listed files. Sizes are only looked up for local
// files; incoming files do not exist on disk yet.
func (m *Model) SetFiles(paths []string, local bool) {
	m.entries = m.entries[:0]
	for _, p := range paths {
		e := entry{name: p}
		if !local {
			e.name = filepath.Base(p)
		} else if info, err := os.Stat(p); err == nil && !info.IsDir() {
			e.size = tui.ByteCountSI(info.Size())
		} else {
			e.size = "N/A"
		}
		m.entries = append(m.entries, e)
	}
	m.table.SetCursor(0)
	m.layout()
}

// Len returns the number of listed files.
func (m Model) Len() int {
	return len(m.entries)
}

func (m *Model) width() int {
	if m.Width <= 0 || m.Width > tui.MAX_WIDTH-2*tui.MARGIN {
		return tui.MAX_WIDTH - 2*tui.MARGIN
	}
	return m.Width
}

// layout sizes the columns to the width and refills the rows, cutting long
// paths from the left so the file name stays visible.
func (m *Model) layout() {
	nameWidth := int(float64(m.width()) * nameShare)
	m.table.SetColumns([]table.Column{
		{Title: "File", Width: nameWidth},
		{Title: "Size", Width: m.width() - nameWidth},
	})

	rows := make([]table.Row, 0, len(m.entries))
	for _, e := range m.entries {
		name := e.name
		if w := runewidth.StringWidth(name); w > nameWidth {
			name = runewidth.TruncateLeft(name, w-nameWidth+1, "…")
		}
		rows = append(rows, table.Row{name, e.size})
	}
	m.table.SetRows(rows)

	height := len(rows)
	if height > m.MaxRows {
		height = m.MaxRows
	}
	m.table.SetHeight(height)
}

func (Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.Width = msg.Width - 2*tui.MARGIN - 4
		m.layout()
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if len(m.entries) == 0 {
		return ""
	}
	return style.Render(m.table.View()) + "\n\n"
}
