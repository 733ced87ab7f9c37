package tui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Quit     key.Binding
	Up       key.Binding
	Down     key.Binding
	Accept   key.Binding
	Decline  key.Binding
	Confirm  key.Binding
	Cancel   key.Binding
	Dismiss  key.Binding
	CopyText key.Binding
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up,
		k.Down,
		k.Accept,
		k.Decline,
		k.Cancel,
		k.Dismiss,
		k.CopyText,
		k.Quit,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var Keys = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("(q)", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("(↑/k)", "previous"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("(↓/j)", "next"),
	),
	Accept: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("(y)", "accept"),
		key.WithDisabled(),
	),
	Decline: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("(n)", "decline"),
		key.WithDisabled(),
	),
	Confirm: key.NewBinding(
		key.WithKeys("enter"),
		key.WithDisabled(),
	),
	Cancel: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("(c)", "cancel transfer"),
		key.WithDisabled(),
	),
	Dismiss: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("(d)", "dismiss"),
		key.WithDisabled(),
	),
	CopyText: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("(t)", "copy text"),
		key.WithDisabled(),
	),
}

const (
	CopyKeyHelpText       = "copy text"
	CopyKeyActiveHelpText = "text copied to clipboard!"
)
