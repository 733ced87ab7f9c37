package conn

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"golang.org/x/exp/slices"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Conn is an interface that wraps a network connection.
type Conn interface {
	Write(context.Context, []byte) error
	Read(context.Context) ([]byte, error)
}

// ------------------ Conn implementations ------------------

// WS is a wrapper around a websocket connection.
type WS struct {
	Conn *websocket.Conn
}

func (ws *WS) Write(ctx context.Context, payload []byte) error {
	return ws.Conn.Write(ctx, websocket.MessageText, payload)
}

func (ws *WS) Read(ctx context.Context) ([]byte, error) {
	_, payload, err := ws.Conn.Read(ctx)
	return payload, err
}

// WriteJSON encodes v as a single text message.
func (ws *WS) WriteJSON(ctx context.Context, v any) error {
	return wsjson.Write(ctx, ws.Conn, v)
}

// Close closes the connection with a normal closure status.
func (ws *WS) Close(reason string) error {
	return ws.Conn.Close(websocket.StatusNormalClosure, reason)
}

// ------------------ Engine Conn ----------------------------

// Engine specifies a connection to the transfer engine.
type Engine struct {
	Conn Conn
}

// WriteMsg writes an engine message to the underlying connection.
func (e Engine) WriteMsg(ctx context.Context, msg transfer.Msg) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Type.Name(), err)
	}
	return e.Conn.Write(ctx, payload)
}

// ReadMsg reads an engine message from the underlying connection. If expected
// types are given, any other type is reported as a transfer.Error.
func (e Engine) ReadMsg(ctx context.Context, expected ...transfer.MsgType) (transfer.Msg, error) {
	b, err := e.Conn.Read(ctx)
	if err != nil {
		return transfer.Msg{}, err
	}
	var msg transfer.Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return transfer.Msg{}, fmt.Errorf("decoding engine message: %w", err)
	}
	if len(expected) != 0 && !slices.Contains(expected, msg.Type) {
		return transfer.Msg{}, transfer.Error{Expected: expected, Got: msg.Type}
	}
	return msg, nil
}
