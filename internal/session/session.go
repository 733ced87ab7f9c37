// Package session keeps the coordinator's record of every transfer attempt:
// the state machine that classifies engine events and the registry that owns
// the sessions. Nothing in this package is safe for concurrent use; the
// router owns it from a single goroutine.
package session

import (
	"errors"

	"github.com/SpatiumPortae/quickshare/internal/eta"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
)

var (
	ErrUnknownSession = errors.New("unknown transfer session")
	ErrMalformedEvent = errors.New("event is missing transfer metadata")
)

// Kind is the direction of a transfer.
type Kind int

const (
	KindReceive Kind = iota
	KindSend
)

func (k Kind) Name() string {
	switch k {
	case KindReceive:
		return "Receive"
	case KindSend:
		return "Send"
	default:
		return ""
	}
}

// KindFor infers the direction of a transfer first seen in state s.
func KindFor(s transfer.State) Kind {
	if s.IsOutbound() {
		return KindSend
	}
	return KindReceive
}

// Action is a decision the user made about a session.
type Action int

const (
	ConsentAccept Action = iota
	ConsentDecline
	TransferCancel
)

func (a Action) Name() string {
	switch a {
	case ConsentAccept:
		return "ConsentAccept"
	case ConsentDecline:
		return "ConsentDecline"
	case TransferCancel:
		return "TransferCancel"
	default:
		return ""
	}
}

// Session is the mutable record of one transfer attempt.
type Session struct {
	ID transfer.ID
	// Generation distinguishes sessions that reuse an id after eviction.
	Generation uint64
	Kind       Kind
	State      transfer.State
	LastEvent  *transfer.Event
	UserAction *Action
	Eta        *eta.Estimator
	DeviceName string
	Dismissed  bool

	// cancelledByPeer is set when the session was cancelled by the other side.
	cancelledByPeer bool
}

// Decided reports whether a user action has been recorded.
func (s *Session) Decided() bool {
	return s.UserAction != nil
}

// Meta returns the metadata of the last event, if any.
func (s *Session) Meta() (transfer.Meta, bool) {
	if s.LastEvent == nil || s.LastEvent.Meta == nil {
		return transfer.Meta{}, false
	}
	return *s.LastEvent.Meta, true
}

// FailureReason returns a short description of why the session ended, or
// the empty string if it has not failed.
func (s *Session) FailureReason() string {
	switch s.State {
	case transfer.Disconnected:
		return "disconnected"
	case transfer.Rejected:
		if s.UserAction != nil && *s.UserAction == ConsentDecline {
			return "declined"
		}
		return "rejected"
	case transfer.Cancelled:
		if s.cancelledByPeer {
			if s.Kind == KindSend {
				return "cancelled by receiver"
			}
			return "cancelled by sender"
		}
		return "cancelled"
	default:
		return ""
	}
}

// Snapshot is an immutable copy of a session handed to presentation layers.
type Snapshot struct {
	ID              transfer.ID    `json:"id"`
	Generation      uint64         `json:"generation"`
	Kind            string         `json:"kind"`
	State           transfer.State `json:"state"`
	DeviceName      string         `json:"device_name,omitempty"`
	UserAction      string         `json:"user_action,omitempty"`
	Files           []string       `json:"files,omitempty"`
	PinCode         string         `json:"pin_code,omitempty"`
	TextDescription string         `json:"text_description,omitempty"`
	TextPayload     string         `json:"text_payload,omitempty"`
	TextType        string         `json:"text_type,omitempty"`
	TotalBytes      uint64         `json:"total_bytes"`
	AckBytes        uint64         `json:"ack_bytes"`
	Progress        float64        `json:"progress"`
	Eta             string         `json:"eta"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	Dismissible     bool           `json:"dismissible"`
}

// AwaitingConsent reports whether the snapshot needs a decision from the user.
// Only incoming transfers ask for consent.
func (s Snapshot) AwaitingConsent() bool {
	return s.Kind == KindReceive.Name() && s.State == transfer.WaitingForUserConsent && s.UserAction == ""
}

// IsText reports whether the snapshot describes a text transfer.
func (s Snapshot) IsText() bool {
	return len(s.Files) == 0 && (s.TextPayload != "" || s.TextDescription != "")
}

// Snapshot copies the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:            s.ID,
		Generation:    s.Generation,
		Kind:          s.Kind.Name(),
		State:         s.State,
		DeviceName:    s.DeviceName,
		FailureReason: s.FailureReason(),
		Dismissible:   s.State.IsTerminal(),
		Eta:           eta.Unknown,
	}
	if s.UserAction != nil {
		snap.UserAction = s.UserAction.Name()
	}
	if meta, ok := s.Meta(); ok {
		snap.Files = append([]string(nil), meta.Files...)
		snap.PinCode = meta.PinCode
		snap.TextDescription = meta.TextDescription
		snap.TextPayload = meta.TextPayload
		snap.TextType = meta.TextType
		snap.TotalBytes = meta.TotalBytes
		snap.AckBytes = meta.AckBytes
	}
	if s.Eta != nil {
		snap.Progress = s.Eta.Fraction()
		if s.State.IsTransferring() {
			snap.Eta = s.Eta.String()
		}
	}
	if s.State == transfer.Finished {
		snap.Progress = 1
	}
	return snap
}
