// transfer.go specifies the messages exchanged with the transfer engine.
package transfer

import (
	"fmt"
	"strings"
)

// ID identifies a single transfer attempt. It is assigned by the engine for
// incoming transfers and by the client for outgoing ones.
type ID string

// MsgType specifies the message type for the messages exchanged with the engine.
type MsgType int

const (
	EngineError       MsgType = iota // The engine reports an error
	EngineEvent                      // Engine reports a lifecycle event for a transfer
	EngineEndpoint                   // Engine reports a discovered (or departed) endpoint
	ClientCommand                    // Client forwards a user decision for a transfer
	ClientSendRequest                // Client asks the engine to start an outbound transfer
)

// Msg specifies a message exchanged with the engine.
type Msg struct {
	Type    MsgType `json:"type"`
	Payload Payload `json:"payload,omitempty"`
}

type Payload struct {
	Event       *Event       `json:"event,omitempty"`
	Endpoint    *Endpoint    `json:"endpoint,omitempty"`
	Command     *Command     `json:"command,omitempty"`
	SendRequest *SendRequest `json:"send_request,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// Meta carries the transfer metadata the engine attaches to an event.
type Meta struct {
	TotalBytes      uint64   `json:"total_bytes"`
	AckBytes        uint64   `json:"ack_bytes"`
	Files           []string `json:"files,omitempty"`
	PinCode         string   `json:"pin_code,omitempty"`
	TextDescription string   `json:"text_description,omitempty"`
	TextPayload     string   `json:"text_payload,omitempty"`
	TextType        string   `json:"text_type,omitempty"`
}

// IsText reports whether the transfer carries a text payload instead of files.
func (m Meta) IsText() bool {
	return len(m.Files) == 0 && (m.TextPayload != "" || m.TextDescription != "")
}

// Event is an immutable snapshot of a transfer as reported by the engine.
type Event struct {
	ID               ID      `json:"id"`
	State            *State  `json:"state,omitempty"`
	Meta             *Meta   `json:"meta,omitempty"`
	SourceDeviceName *string `json:"source_device_name,omitempty"`
}

// CurrentState returns the reported state, absent states count as Initial.
func (e Event) CurrentState() State {
	if e.State == nil {
		return Initial
	}
	return *e.State
}

// Endpoint is a peer discovered by the engine. Present is false once the
// endpoint has departed.
type Endpoint struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IP      string `json:"ip,omitempty"`
	Port    uint16 `json:"port,omitempty"`
	Present bool   `json:"present"`
}

// Address returns the host:port the engine uses to reach the endpoint.
func (e Endpoint) Address() string {
	if e.IP == "" {
		return ""
	}
	if strings.Contains(e.IP, ":") {
		return fmt.Sprintf("[%s]:%d", e.IP, e.Port)
	}
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Action is a command the engine understands for an existing transfer.
type Action int

const (
	AcceptTransfer Action = iota
	RejectTransfer
	CancelTransfer
)

func (a Action) Name() string {
	switch a {
	case AcceptTransfer:
		return "AcceptTransfer"
	case RejectTransfer:
		return "RejectTransfer"
	case CancelTransfer:
		return "CancelTransfer"
	default:
		return ""
	}
}

// Command carries a user decision for a transfer to the engine.
type Command struct {
	ID     ID     `json:"id"`
	Action Action `json:"action"`
}

// Text is a text payload for an outbound transfer.
type Text struct {
	Description string `json:"description,omitempty"`
	Payload     string `json:"payload"`
	Type        string `json:"type,omitempty"`
}

// SendRequest asks the engine to start an outbound transfer to an endpoint.
// Exactly one of Files and Text is set.
type SendRequest struct {
	ID          ID       `json:"id"`
	DisplayName string   `json:"display_name"`
	Address     string   `json:"address"`
	Files       []string `json:"files,omitempty"`
	Text        *Text    `json:"text,omitempty"`
}

// Error is returned when a message of an unexpected type is read.
type Error struct {
	Expected []MsgType
	Got      MsgType
}

func (e Error) Error() string {
	var expectedMessageTypes []string
	for _, expectedType := range e.Expected {
		expectedMessageTypes = append(expectedMessageTypes, expectedType.Name())
	}
	oneOfExpected := strings.Join(expectedMessageTypes, ", ")
	return fmt.Sprintf("wrong message type, expected one of: (%s), got: (%s)", oneOfExpected, e.Got.Name())
}

func (t MsgType) Name() string {
	switch t {
	case EngineError:
		return "EngineError"
	case EngineEvent:
		return "EngineEvent"
	case EngineEndpoint:
		return "EngineEndpoint"
	case ClientCommand:
		return "ClientCommand"
	case ClientSendRequest:
		return "ClientSendRequest"
	default:
		return ""
	}
}
