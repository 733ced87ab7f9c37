// Package engine connects the coordinator to the transfer engine. The engine
// streams transfer events and discovered endpoints over a websocket and
// accepts commands on the same connection.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/SpatiumPortae/quickshare/internal/conn"
	"github.com/SpatiumPortae/quickshare/internal/semver"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

// DefaultAddress is where a locally running engine listens.
const DefaultAddress = "127.0.0.1:9300"

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBuffer sets the capacity of the event and endpoint channels.
func WithBuffer(n int) Option {
	return func(c *Client) {
		c.buffer = n
	}
}

// Client pumps messages between the engine connection and the coordinator.
type Client struct {
	conn      conn.Engine
	closer    func() error
	events    chan transfer.Event
	endpoints chan transfer.Endpoint
	buffer    int
	logger    *zap.Logger
}

// Dial opens a websocket to the engine at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	ws, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to engine at %s: %w", addr, err)
	}
	ws.SetReadLimit(1 << 20)
	wsConn := &conn.WS{Conn: ws}
	c := NewClient(wsConn, opts...)
	c.closer = func() error { return wsConn.Close("client shutting down") }
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(c conn.Conn, opts ...Option) *Client {
	client := &Client{
		conn:   conn.Engine{Conn: c},
		buffer: 32,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.events = make(chan transfer.Event, client.buffer)
	client.endpoints = make(chan transfer.Endpoint, client.buffer)
	return client
}

// Events is closed when the connection to the engine is lost.
func (c *Client) Events() <-chan transfer.Event {
	return c.events
}

// Endpoints is closed when the connection to the engine is lost.
func (c *Client) Endpoints() <-chan transfer.Endpoint {
	return c.endpoints
}

// Run reads from the engine and writes every message from outbound until
// the connection fails or ctx is cancelled.
func (c *Client) Run(ctx context.Context, outbound <-chan transfer.Msg) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(c.events)
		defer close(c.endpoints)
		return c.read(ctx)
	})
	g.Go(func() error {
		return c.write(ctx, outbound)
	})
	err := g.Wait()
	if c.closer != nil {
		if cerr := c.closer(); cerr != nil {
			c.logger.Debug("closing engine connection", zap.Error(cerr))
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) read(ctx context.Context) error {
	for {
		msg, err := c.conn.ReadMsg(ctx, transfer.EngineEvent, transfer.EngineEndpoint, transfer.EngineError)
		if err != nil {
			var terr transfer.Error
			if errors.As(err, &terr) {
				c.logger.Warn("ignoring engine message", zap.Error(err))
				continue
			}
			return fmt.Errorf("reading from engine: %w", err)
		}

		switch msg.Type {
		case transfer.EngineError:
			c.logger.Error("engine reported an error", zap.String("message", msg.Payload.Message))
		case transfer.EngineEvent:
			if msg.Payload.Event == nil {
				c.logger.Warn("engine event without payload")
				continue
			}
			select {
			case c.events <- *msg.Payload.Event:
			case <-ctx.Done():
				return ctx.Err()
			}
		case transfer.EngineEndpoint:
			if msg.Payload.Endpoint == nil {
				c.logger.Warn("engine endpoint without payload")
				continue
			}
			select {
			case c.endpoints <- *msg.Payload.Endpoint:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Client) write(ctx context.Context, outbound <-chan transfer.Msg) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-outbound:
			if !ok {
				return nil
			}
			c.logger.Debug("writing to engine", zap.String("type", msg.Type.Name()))
			if err := c.conn.WriteMsg(ctx, msg); err != nil {
				return fmt.Errorf("writing %s to engine: %w", msg.Type.Name(), err)
			}
		}
	}
}

// Version fetches the version of the engine at addr.
func Version(ctx context.Context, addr string) (semver.Version, error) {
	return semver.GetVersion(ctx, fmt.Sprintf("http://%s/version", addr))
}
