package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/engine"
	"github.com/SpatiumPortae/quickshare/internal/semver"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ------------------------------------------------------ Constants ----------------------------------------------------

const (
	MARGIN                   = 2
	MAX_WIDTH                = 80
	PRIMARY_COLOR            = "#B8BABA"
	SECONDARY_COLOR          = "#626262"
	ELEMENT_COLOR            = "#EE9F40"
	SECONDARY_ELEMENT_COLOR  = "#EE9F70"
	DARK_COLOR               = "#232323"
	ERROR_COLOR              = "#CC0000"
	WARNING_COLOR            = "#FF7900"
	SUCCESS_COLOR            = "#34B233"
	TEMP_UI_MESSAGE_DURATION = 2 * time.Second
)

var PadText = strings.Repeat(" ", MARGIN)

var Progressbar = progress.New(progress.WithGradient(SECONDARY_ELEMENT_COLOR, ELEMENT_COLOR))

var BaseStyle = lipgloss.NewStyle()
var InfoStyle = BaseStyle.Copy().Foreground(lipgloss.Color(PRIMARY_COLOR)).Render
var HelpStyle = BaseStyle.Copy().Foreground(lipgloss.Color(SECONDARY_COLOR)).Render
var ItalicText = BaseStyle.Copy().Italic(true).Render
var BoldText = BaseStyle.Copy().Bold(true).Render
var ErrorText = BaseStyle.Copy().Foreground(lipgloss.Color(ERROR_COLOR)).Render
var WarningText = BaseStyle.Copy().Foreground(lipgloss.Color(WARNING_COLOR)).Render
var SuccessText = BaseStyle.Copy().Foreground(lipgloss.Color(SUCCESS_COLOR)).Render
var SelectedText = BaseStyle.Copy().Foreground(lipgloss.Color(ELEMENT_COLOR)).Bold(true).Render

var WaitingSpinner = spinner.Spinner{
	Frames: []string{"⠋ ", "⠙ ", "⠹ ", "⠸ ", "⠼ ", "⠴ ", "⠦ ", "⠧ ", "⠇ ", "⠏ "},
	FPS:    time.Second / 12,
}

var TransferSpinner = spinner.Spinner{
	Frames: []string{"»  ", "»» ", "»»»", "   "},
	FPS:    time.Millisecond * 400,
}

var ReceivingSpinner = spinner.Spinner{
	Frames: []string{"   ", "  «", " ««", "«««"},
	FPS:    time.Second / 2,
}

// ------------------------------------------------------ Messages -----------------------------------------------------

type ErrorMsg error

type VersionMsg struct {
	EngineVersion semver.Version
}

// ------------------------------------------------------ Commands -----------------------------------------------------

// ErrorCmd prints the error and quits the program.
func ErrorCmd(err error) tea.Cmd {
	return tea.Sequence(
		tea.Println(PadText+ErrorText(fmt.Sprintf("Error: %s", err))),
		tea.Quit,
	)
}

// TaskCmd prints a completed task above the program and then runs cmd.
func TaskCmd(task string, cmd tea.Cmd) tea.Cmd {
	if task == "" {
		return cmd
	}
	return tea.Sequence(tea.Println(PadText+SuccessText("• ")+InfoStyle(task)), cmd)
}

func QuitCmd() tea.Cmd {
	return tea.Quit
}

// VersionCmd fetches the version of the engine at addr.
func VersionCmd(ctx context.Context, addr string) tea.Cmd {
	return func() tea.Msg {
		ver, err := engine.Version(ctx, addr)
		if err != nil {
			return ErrorMsg(err)
		}
		return VersionMsg{EngineVersion: ver}
	}
}

// ------------------------------------------------------ Helpers ------------------------------------------------------

// LogSeparator returns a horizontal rule that fits the terminal.
func LogSeparator(width int) string {
	paddedWidth := width - 2*MARGIN
	if paddedWidth > MAX_WIDTH {
		paddedWidth = MAX_WIDTH
	}
	if paddedWidth < 0 {
		paddedWidth = 0
	}
	return HelpStyle(strings.Repeat("─", paddedWidth)) + "\n\n"
}

// ByteCountSI formats a byte count using SI units.
func ByteCountSI(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "kMGTPE"[exp])
}

// Plural returns word with an s appended unless n is one.
func Plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
