package session

import (
	"github.com/SpatiumPortae/quickshare/internal/eta"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
)

// Change classifies what an event means for the presentation of a session.
type Change int

const (
	// Unobserved covers the negotiation steps before consent.
	Unobserved Change = iota
	// AwaitingConsent means the user has to accept or decline the transfer.
	AwaitingConsent
	// InProgress means bytes are moving.
	InProgress
	// Terminal means the session ended and may be dismissed.
	Terminal
	// Ignored means the event arrived after the session ended.
	Ignored
)

func (c Change) Name() string {
	switch c {
	case Unobserved:
		return "Unobserved"
	case AwaitingConsent:
		return "AwaitingConsent"
	case InProgress:
		return "InProgress"
	case Terminal:
		return "Terminal"
	case Ignored:
		return "Ignored"
	default:
		return ""
	}
}

// Transition describes the effect of applying one event to a session.
type Transition struct {
	Kind Change
	From transfer.State
	To   transfer.State
	// Entered is set when the session moved into a different state.
	Entered bool
	// Unexpected is set when To is not reachable from From. The engine is
	// authoritative, so the state is applied anyway.
	Unexpected bool
	// Malformed is set when the event lacks metadata its state requires.
	Malformed bool
	// CancelledByPeer is set for a cancellation the user did not ask for.
	CancelledByPeer bool
}

// Err returns ErrMalformedEvent for malformed transitions.
func (t Transition) Err() error {
	if t.Malformed {
		return ErrMalformedEvent
	}
	return nil
}

// successors lists the non-terminal states reachable from each state. Every
// non-terminal state may also repeat itself or move to any terminal state.
var successors = map[transfer.State][]transfer.State{
	transfer.Initial:                   {transfer.ReceivedConnectionRequest, transfer.SentUkeyClientInit},
	transfer.ReceivedConnectionRequest: {transfer.SentUkeyServerInit},
	transfer.SentUkeyServerInit:        {transfer.ReceivedUkeyClientFinish},
	transfer.ReceivedUkeyClientFinish:  {transfer.SentConnectionResponse},
	transfer.SentConnectionResponse:    {transfer.SentPairedKeyResult, transfer.ReceivedPairedKeyResult},
	transfer.SentPairedKeyResult:       {transfer.ReceivedPairedKeyResult, transfer.WaitingForUserConsent, transfer.SentIntroduction},
	transfer.ReceivedPairedKeyResult:   {transfer.SentPairedKeyResult, transfer.WaitingForUserConsent, transfer.SentIntroduction},
	transfer.SentUkeyClientInit:        {transfer.SentUkeyClientFinish},
	transfer.SentUkeyClientFinish:      {transfer.SentPairedKeyEncryption},
	transfer.SentPairedKeyEncryption:   {transfer.SentPairedKeyResult, transfer.ReceivedPairedKeyResult},
	transfer.SentIntroduction:          {transfer.SendingFiles},
	transfer.WaitingForUserConsent:     {transfer.ReceivingFiles},
}

// CanTransition reports whether next is reachable from current.
func CanTransition(current, next transfer.State) bool {
	if current.IsTerminal() {
		return false
	}
	if next.IsTerminal() || current == next {
		return true
	}
	for _, s := range successors[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Apply moves the session to the state reported by ev and classifies the
// transition. It performs no I/O.
func Apply(s *Session, ev transfer.Event) Transition {
	from := s.State
	to := ev.CurrentState()
	if from.IsTerminal() {
		return Transition{Kind: Ignored, From: from, To: from}
	}

	// A session created mid-negotiation has no history to check against.
	t := Transition{
		From:       from,
		To:         to,
		Entered:    from != to,
		Unexpected: s.LastEvent != nil && !CanTransition(from, to),
	}

	hasMeta := ev.Meta != nil
	if !hasMeta && s.LastEvent != nil {
		// Keep the last known metadata so the session can still be shown.
		ev.Meta = s.LastEvent.Meta
	}
	s.State = to
	s.LastEvent = &ev
	if ev.SourceDeviceName != nil && *ev.SourceDeviceName != "" {
		s.DeviceName = *ev.SourceDeviceName
	}

	switch {
	case to == transfer.WaitingForUserConsent:
		t.Kind = AwaitingConsent
		t.Malformed = !hasMeta

	case to.IsTransferring():
		t.Kind = InProgress
		if !hasMeta {
			t.Malformed = true
			break
		}
		if s.Eta == nil {
			s.Eta = eta.New(ev.Meta.TotalBytes)
		}
		if t.Entered {
			total := ev.Meta.TotalBytes
			s.Eta.PrepareForNewTransfer(&total)
		}
		s.Eta.StepWith(ev.Meta.AckBytes)

	case to.IsTerminal():
		t.Kind = Terminal
		if to == transfer.Cancelled {
			local := s.UserAction != nil && *s.UserAction == TransferCancel
			t.CancelledByPeer = !local
			s.cancelledByPeer = !local
		}

	default:
		t.Kind = Unobserved
	}
	return t
}
