// Package sessions is the interactive view of every transfer the coordinator
// tracks. It answers consent requests, shows progress and lets the user
// cancel or dismiss transfers.
package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/SpatiumPortae/quickshare/cmd/quickshare/tui"
	"github.com/SpatiumPortae/quickshare/cmd/quickshare/tui/filetable"
	"github.com/SpatiumPortae/quickshare/cmd/quickshare/tui/transferprogress"
	"github.com/SpatiumPortae/quickshare/internal/router"
	"github.com/SpatiumPortae/quickshare/internal/semver"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/timer"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/erikgeiser/promptkit"
	"github.com/erikgeiser/promptkit/confirmation"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Coordinator is the part of the router the view drives.
type Coordinator interface {
	Act(ctx context.Context, id transfer.ID, a session.Action) error
	Dismiss(ctx context.Context, id transfer.ID) error
}

// ------------------------------------------------------ Messages -----------------------------------------------------

type notificationMsg router.Notification

type closedMsg struct{}

type actionDoneMsg struct {
	err error
}

type copiedMsg struct {
	id transfer.ID
}

// ------------------------------------------------------- Model -------------------------------------------------------

type Option func(m *model)

func WithVersion(version semver.Version, engineAddr string) Option {
	return func(m *model) {
		m.version = &version
		m.engineAddr = engineAddr
	}
}

// WithClipboard copies received text to the clipboard once it has arrived.
func WithClipboard(enabled bool) Option {
	return func(m *model) {
		m.copyText = enabled
	}
}

type model struct {
	ctx         context.Context
	coordinator Coordinator
	notes       <-chan router.Notification

	sessions  []session.Snapshot
	selected  int
	endpoints map[string]transfer.Endpoint
	copied    map[transfer.ID]bool
	copyText  bool
	status    string

	version    *semver.Version
	engineAddr string

	width            int
	spinner          spinner.Model
	spinnerKind      spinnerKind
	transferProgress transferprogress.Model
	fileTable        filetable.Model
	consentPrompt    confirmation.Model
	promptFor        transfer.ID
	help             help.Model
	keys             tui.KeyMap
	copyMessageTimer timer.Model
}

// New creates the sessions program. It runs until the user quits or notes is
// closed.
func New(ctx context.Context, c Coordinator, notes <-chan router.Notification, opts ...Option) *tea.Program {
	return tea.NewProgram(newModel(ctx, c, notes, opts...))
}

func newModel(ctx context.Context, c Coordinator, notes <-chan router.Notification, opts ...Option) model {
	m := model{
		ctx:              ctx,
		coordinator:      c,
		notes:            notes,
		endpoints:        make(map[string]transfer.Endpoint),
		copied:           make(map[transfer.ID]bool),
		transferProgress: transferprogress.New(),
		fileTable:        filetable.New(),
		consentPrompt:    *confirmation.NewModel(confirmation.New("", confirmation.Undecided)),
		help:             help.New(),
		keys:             tui.Keys,
		copyMessageTimer: timer.New(tui.TEMP_UI_MESSAGE_DURATION),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.spinnerKind = -1
	m.resetSpinner()
	return m
}

func (m model) Init() tea.Cmd {
	var versionCmd tea.Cmd
	if m.version != nil {
		versionCmd = tui.VersionCmd(m.ctx, m.engineAddr)
	}
	return tea.Batch(versionCmd, m.spinner.Tick, listenCmd(m.notes))
}

// ------------------------------------------------------- Update ------------------------------------------------------

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tui.VersionMsg:
		var message string
		switch m.version.Compare(msg.EngineVersion) {
		case semver.CompareNewMajor,
			semver.CompareOldMajor:
			//lint:ignore ST1005 error string displayed in tui
			return m, tui.ErrorCmd(fmt.Errorf("Quickshare version (%s) incompatible with engine version (%s)", m.version, msg.EngineVersion))
		case semver.CompareNewMinor,
			semver.CompareNewPatch:
			message = tui.WarningText(fmt.Sprintf("Quickshare version (%s) newer than engine version (%s)", m.version, msg.EngineVersion))
		case semver.CompareOldMinor,
			semver.CompareOldPatch:
			message = tui.WarningText(fmt.Sprintf("Engine version (%s) newer than Quickshare version (%s)", msg.EngineVersion, m.version))
		case semver.CompareEqual:
			message = tui.SuccessText(fmt.Sprintf("Quickshare version (%s) compatible with engine version (%s)", m.version, msg.EngineVersion))
		}
		return m, tui.TaskCmd(message, nil)

	case notificationMsg:
		cmds := []tea.Cmd{listenCmd(m.notes)}
		cmds = append(cmds, m.apply(router.Notification(msg)))
		cmds = append(cmds, m.syncSelection())
		return m, tea.Batch(cmds...)

	case closedMsg:
		return m, tui.TaskCmd("Disconnected from engine", tui.QuitCmd())

	case actionDoneMsg:
		if msg.err != nil {
			m.status = tui.WarningText(msg.err.Error())
		}
		return m, nil

	case copiedMsg:
		m.copied[msg.id] = true
		m.copyMessageTimer.Timeout = tui.TEMP_UI_MESSAGE_DURATION
		return m, m.copyMessageTimer.Init()

	case timer.TickMsg:
		var cmd tea.Cmd
		m.copyMessageTimer, cmd = m.copyMessageTimer.Update(msg)
		if m.copyMessageTimer.Running() {
			m.keys.CopyText.SetHelp(m.keys.CopyText.Help().Key, tui.CopyKeyActiveHelpText)
		}
		return m, cmd

	case timer.TimeoutMsg:
		var cmd tea.Cmd
		m.copyMessageTimer, cmd = m.copyMessageTimer.Update(msg)
		m.keys.CopyText.SetHelp(m.keys.CopyText.Help().Key, tui.CopyKeyHelpText)
		return m, cmd

	case tui.ErrorMsg:
		return m, tui.ErrorCmd(errors.New(msg.Error()))

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		transferProgressModel, transferProgressCmd := m.transferProgress.Update(msg)
		m.transferProgress = transferProgressModel.(transferprogress.Model)

		fileTableModel, fileTableCmd := m.fileTable.Update(msg)
		m.fileTable = fileTableModel.(filetable.Model)

		m.consentPrompt.MaxWidth = msg.Width - 2*tui.MARGIN - 4
		_, promptCmd := m.consentPrompt.Update(msg)

		return m, tea.Batch(transferProgressCmd, fileTableCmd, promptCmd)

	default:
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		transferProgressModel, transferProgressCmd := m.transferProgress.Update(msg)
		m.transferProgress = transferProgressModel.(transferprogress.Model)
		_, promptCmd := m.consentPrompt.Update(msg)
		return m, tea.Batch(spinnerCmd, transferProgressCmd, promptCmd)
	}
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		return m, m.syncSelection()

	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.sessions)-1 {
			m.selected++
		}
		return m, m.syncSelection()
	}

	snap, ok := m.current()
	if !ok {
		return m, nil
	}
	m.status = ""

	switch {
	case key.Matches(msg, m.keys.Accept):
		return m, m.actCmd(snap.ID, session.ConsentAccept)

	case key.Matches(msg, m.keys.Decline):
		return m, m.actCmd(snap.ID, session.ConsentDecline)

	case key.Matches(msg, m.keys.Confirm):
		accept, err := m.consentPrompt.Value()
		if err != nil {
			return m, nil
		}
		if accept {
			return m, m.actCmd(snap.ID, session.ConsentAccept)
		}
		return m, m.actCmd(snap.ID, session.ConsentDecline)

	case key.Matches(msg, m.keys.Cancel):
		return m, m.actCmd(snap.ID, session.TransferCancel)

	case key.Matches(msg, m.keys.Dismiss):
		return m, m.dismissCmd(snap.ID)

	case key.Matches(msg, m.keys.CopyText):
		return m, copyCmd(snap.ID, snap.TextPayload)
	}

	if snap.AwaitingConsent() {
		switch msg.String() {
		case "left", "right":
			_, promptCmd := m.consentPrompt.Update(msg)
			return m, promptCmd
		}
	}
	return m, nil
}

// apply folds a notification into the model.
func (m *model) apply(n router.Notification) tea.Cmd {
	switch n.Kind {
	case router.EndpointChanged:
		if n.Endpoint == nil {
			return nil
		}
		if n.Endpoint.Present {
			m.endpoints[n.Endpoint.ID] = *n.Endpoint
		} else {
			delete(m.endpoints, n.Endpoint.ID)
		}
		return nil

	case router.SessionEvicted:
		if n.Session == nil {
			return nil
		}
		m.sessions = slices.DeleteFunc(m.sessions, func(s session.Snapshot) bool {
			return s.ID == n.Session.ID && s.Generation == n.Session.Generation
		})
		delete(m.copied, n.Session.ID)
		return nil
	}

	if n.Session == nil {
		return nil
	}
	snap := *n.Session
	i := slices.IndexFunc(m.sessions, func(s session.Snapshot) bool {
		return s.ID == snap.ID && s.Generation == snap.Generation
	})
	if i < 0 {
		m.sessions = append(m.sessions, snap)
		slices.SortFunc(m.sessions, func(a, b session.Snapshot) int {
			switch {
			case a.Generation < b.Generation:
				return -1
			case a.Generation > b.Generation:
				return 1
			default:
				return 0
			}
		})
	} else {
		m.sessions[i] = snap
	}

	if m.copyText && snap.Kind == session.KindReceive.Name() && snap.State == transfer.Finished &&
		snap.IsText() && !m.copied[snap.ID] {
		m.copied[snap.ID] = true
		return copyCmd(snap.ID, snap.TextPayload)
	}
	return nil
}

// syncSelection keeps the selection in range and points the detail widgets
// at the selected session.
func (m *model) syncSelection() tea.Cmd {
	if m.selected >= len(m.sessions) {
		m.selected = len(m.sessions) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}

	snap, ok := m.current()
	m.keys.Accept.SetEnabled(ok && snap.AwaitingConsent())
	m.keys.Decline.SetEnabled(ok && snap.AwaitingConsent())
	m.keys.Confirm.SetEnabled(ok && snap.AwaitingConsent())
	m.keys.Cancel.SetEnabled(ok && !snap.State.IsTerminal() && snap.UserAction != session.TransferCancel.Name())
	m.keys.Dismiss.SetEnabled(ok && snap.Dismissible)
	m.keys.CopyText.SetEnabled(ok && snap.TextPayload != "")
	if !ok {
		m.promptFor = ""
		m.fileTable.SetFiles(nil, false)
		return m.resetSpinner()
	}

	m.transferProgress.Set(snap)
	m.fileTable.SetFiles(snap.Files, snap.Kind == session.KindSend.Name())
	spinnerCmd := m.resetSpinner()

	if snap.AwaitingConsent() && m.promptFor != snap.ID {
		m.promptFor = snap.ID
		return tea.Batch(spinnerCmd, m.newConsentPrompt(snap))
	}
	if !snap.AwaitingConsent() {
		m.promptFor = ""
	}
	return spinnerCmd
}

func (m model) current() (session.Snapshot, bool) {
	if m.selected < 0 || m.selected >= len(m.sessions) {
		return session.Snapshot{}, false
	}
	return m.sessions[m.selected], true
}

// -------------------------------------------------------- View -------------------------------------------------------

func (m model) View() string {
	var b strings.Builder
	b.WriteString(tui.PadText + tui.LogSeparator(m.width))

	nearby := fmt.Sprintf("%d %s nearby", len(m.endpoints), tui.Plural(len(m.endpoints), "device"))
	if len(m.sessions) == 0 {
		b.WriteString(tui.PadText + tui.InfoStyle(fmt.Sprintf("%s Waiting for transfers (%s)", m.spinner.View(), nearby)) + "\n\n")
		b.WriteString(tui.PadText + m.help.View(m.keys) + "\n\n")
		return b.String()
	}

	b.WriteString(tui.PadText + tui.HelpStyle(nearby) + "\n\n")
	for i, snap := range m.sessions {
		line := fmt.Sprintf("%s %s", direction(snap), summary(snap))
		if i == m.selected {
			b.WriteString(tui.PadText + tui.SelectedText("> "+line) + "\n")
		} else {
			b.WriteString(tui.PadText + tui.InfoStyle("  "+line) + "\n")
		}
	}
	b.WriteString("\n")

	if snap, ok := m.current(); ok {
		b.WriteString(m.details(snap))
	}
	if m.status != "" {
		b.WriteString(tui.PadText + m.status + "\n\n")
	}
	b.WriteString(tui.PadText + m.help.View(m.keys) + "\n\n")
	return b.String()
}

func (m model) details(snap session.Snapshot) string {
	var b strings.Builder
	switch {
	case snap.AwaitingConsent():
		b.WriteString(tui.PadText + tui.InfoStyle(fmt.Sprintf("%s Waiting for your decision", m.spinner.View())) + "\n\n")
	case snap.State.IsTransferring():
		b.WriteString(tui.PadText + m.transferProgress.View() + "\n\n")
	case snap.State == transfer.Finished:
		b.WriteString(tui.PadText + tui.SuccessText("Transfer complete") + "\n\n")
	case snap.FailureReason != "":
		b.WriteString(tui.PadText + tui.ErrorText(fmt.Sprintf("Transfer failed: %s", snap.FailureReason)) + "\n\n")
	}

	if snap.IsText() {
		preview := snap.TextPayload
		if preview == "" {
			preview = snap.TextDescription
		}
		wrapped := wordwrap.String(tui.ItalicText(preview), tui.MAX_WIDTH-2*tui.MARGIN)
		b.WriteString(indent.String(wrapped, tui.MARGIN) + "\n\n")
	} else {
		b.WriteString(m.fileTable.View())
	}

	if snap.AwaitingConsent() {
		b.WriteString(tui.PadText + m.consentPrompt.View() + "\n\n")
	}
	return b.String()
}

func direction(snap session.Snapshot) string {
	if snap.Kind == session.KindSend.Name() {
		return "↑"
	}
	return "↓"
}

func summary(snap session.Snapshot) string {
	peer := snap.DeviceName
	if peer == "" {
		peer = "unknown device"
	}
	var what string
	switch {
	case snap.IsText():
		what = "text"
	default:
		what = fmt.Sprintf("%d %s", len(snap.Files), tui.Plural(len(snap.Files), "file"))
	}
	preposition := "from"
	if snap.Kind == session.KindSend.Name() {
		preposition = "to"
	}

	var state string
	switch {
	case snap.AwaitingConsent():
		state = "awaiting consent"
	case snap.State.IsTransferring():
		state = fmt.Sprintf("%.0f%%, %s", snap.Progress*100, snap.Eta)
	case snap.State == transfer.Finished:
		state = "done"
	case snap.FailureReason != "":
		state = snap.FailureReason
	default:
		state = "connecting"
	}
	return fmt.Sprintf("%s %s %s (%s)", what, preposition, peer, state)
}

// ------------------------------------------------------ Commands -----------------------------------------------------

// listenCmd waits for the next notification from the router.
func listenCmd(notes <-chan router.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-notes
		if !ok {
			return closedMsg{}
		}
		return notificationMsg(n)
	}
}

func (m model) actCmd(id transfer.ID, a session.Action) tea.Cmd {
	return func() tea.Msg {
		if err := m.coordinator.Act(m.ctx, id, a); err != nil {
			return actionDoneMsg{err: errors.Wrapf(err, "could not %s transfer", verb(a))}
		}
		return actionDoneMsg{}
	}
}

func (m model) dismissCmd(id transfer.ID) tea.Cmd {
	return func() tea.Msg {
		if err := m.coordinator.Dismiss(m.ctx, id); err != nil {
			return actionDoneMsg{err: errors.Wrap(err, "could not dismiss transfer")}
		}
		return actionDoneMsg{}
	}
}

func copyCmd(id transfer.ID, text string) tea.Cmd {
	return func() tea.Msg {
		if err := clipboard.WriteAll(text); err != nil {
			return actionDoneMsg{err: errors.Wrap(err, "failed to copy text to clipboard")}
		}
		return copiedMsg{id: id}
	}
}

// ------------------------------------------------------ Helpers ------------------------------------------------------

func verb(a session.Action) string {
	switch a {
	case session.ConsentAccept:
		return "accept"
	case session.ConsentDecline:
		return "decline"
	default:
		return "cancel"
	}
}

func (m *model) newConsentPrompt(snap session.Snapshot) tea.Cmd {
	question := fmt.Sprintf("Accept %s from %s?", summaryPayload(snap), deviceName(snap))
	if snap.PinCode != "" {
		question = fmt.Sprintf("%s PIN: %s", question, tui.BoldText(snap.PinCode))
	}
	prompt := confirmation.New(question, confirmation.Yes)
	m.consentPrompt = *confirmation.NewModel(prompt)
	m.consentPrompt.MaxWidth = m.width
	m.consentPrompt.WrapMode = promptkit.HardWrap
	m.consentPrompt.Template = confirmation.TemplateYN
	m.consentPrompt.ResultTemplate = confirmation.ResultTemplateYN
	m.consentPrompt.KeyMap.Abort = []string{}
	m.consentPrompt.KeyMap.Toggle = []string{}
	return m.consentPrompt.Init()
}

func summaryPayload(snap session.Snapshot) string {
	if snap.IsText() {
		return "text"
	}
	return fmt.Sprintf("%d %s", len(snap.Files), tui.Plural(len(snap.Files), "file"))
}

func deviceName(snap session.Snapshot) string {
	if snap.DeviceName == "" {
		return "unknown device"
	}
	return snap.DeviceName
}

type spinnerKind int

const (
	waitingSpinner spinnerKind = iota
	sendingSpinner
	receivingSpinner
)

// resetSpinner swaps the spinner when the selected session needs a
// different one. The returned command restarts its ticks.
func (m *model) resetSpinner() tea.Cmd {
	kind := waitingSpinner
	if snap, ok := m.current(); ok && snap.State.IsTransferring() {
		kind = receivingSpinner
		if snap.Kind == session.KindSend.Name() {
			kind = sendingSpinner
		}
	}
	if kind == m.spinnerKind {
		return nil
	}
	m.spinnerKind = kind
	m.spinner = spinner.New()
	m.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(tui.ELEMENT_COLOR))
	switch kind {
	case sendingSpinner:
		m.spinner.Spinner = tui.TransferSpinner
	case receivingSpinner:
		m.spinner.Spinner = tui.ReceivingSpinner
	default:
		m.spinner.Spinner = tui.WaitingSpinner
	}
	return m.spinner.Tick
}
