package transfer

import (
	"fmt"
)

// State mirrors the engine's negotiation states plus the terminal states.
type State int

const (
	Initial State = iota
	ReceivedConnectionRequest
	SentUkeyServerInit
	SentUkeyClientInit
	SentUkeyClientFinish
	SentPairedKeyEncryption
	ReceivedUkeyClientFinish
	SentConnectionResponse
	SentPairedKeyResult
	SentIntroduction
	ReceivedPairedKeyResult
	WaitingForUserConsent
	ReceivingFiles
	SendingFiles
	Disconnected
	Rejected
	Cancelled
	Finished
)

var stateNames = [...]string{
	Initial:                   "Initial",
	ReceivedConnectionRequest: "ReceivedConnectionRequest",
	SentUkeyServerInit:        "SentUkeyServerInit",
	SentUkeyClientInit:        "SentUkeyClientInit",
	SentUkeyClientFinish:      "SentUkeyClientFinish",
	SentPairedKeyEncryption:   "SentPairedKeyEncryption",
	ReceivedUkeyClientFinish:  "ReceivedUkeyClientFinish",
	SentConnectionResponse:    "SentConnectionResponse",
	SentPairedKeyResult:       "SentPairedKeyResult",
	SentIntroduction:          "SentIntroduction",
	ReceivedPairedKeyResult:   "ReceivedPairedKeyResult",
	WaitingForUserConsent:     "WaitingForUserConsent",
	ReceivingFiles:            "ReceivingFiles",
	SendingFiles:              "SendingFiles",
	Disconnected:              "Disconnected",
	Rejected:                  "Rejected",
	Cancelled:                 "Cancelled",
	Finished:                  "Finished",
}

// Name returns the engine's name for the state.
func (s State) Name() string {
	if s < 0 || int(s) >= len(stateNames) {
		return ""
	}
	return stateNames[s]
}

func (s State) String() string {
	if name := s.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s State) IsTerminal() bool {
	switch s {
	case Disconnected, Rejected, Cancelled, Finished:
		return true
	default:
		return false
	}
}

// IsTransferring reports whether bytes are moving in s.
func (s State) IsTransferring() bool {
	return s == ReceivingFiles || s == SendingFiles
}

// IsOutbound reports whether s only occurs on the sending side of a transfer.
func (s State) IsOutbound() bool {
	switch s {
	case SentUkeyClientInit, SentUkeyClientFinish, SentPairedKeyEncryption, SentIntroduction, SendingFiles:
		return true
	default:
		return false
	}
}

// ParseState returns the state with the given engine name.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return State(s), nil
		}
	}
	return Initial, fmt.Errorf("unknown transfer state %q", name)
}

func (s State) MarshalText() ([]byte, error) {
	name := s.Name()
	if name == "" {
		return nil, fmt.Errorf("unknown transfer state %d", int(s))
	}
	return []byte(name), nil
}

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
