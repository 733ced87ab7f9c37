// Package router is the composition root of the coordinator. It consumes the
// engine's event stream, keeps the session registry, forwards user actions to
// the dispatcher and tells presentation layers what changed.
//
// All session state is owned by the goroutine running Run. Every other
// goroutine, including auto decline timers and API handlers, posts work onto
// that goroutine.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SpatiumPortae/quickshare/internal/dispatch"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

var (
	ErrClosed            = errors.New("router is not running")
	ErrInvalidRequest    = errors.New("a send request needs either files or text")
	ErrDuplicateTransfer = errors.New("a transfer with this id is already tracked")
)

type Option func(*Router)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithDispatcherOptions configures the dispatcher created by the router.
func WithDispatcherOptions(opts ...dispatch.Option) Option {
	return func(r *Router) {
		r.dispatchOpts = append(r.dispatchOpts, opts...)
	}
}

// WithRegistryOptions configures the session registry created by the router.
func WithRegistryOptions(opts ...session.RegistryOption) Option {
	return func(r *Router) {
		r.registryOpts = append(r.registryOpts, opts...)
	}
}

// Inbound groups the streams the engine connection produces. A nil Endpoints
// channel disables discovery tracking.
type Inbound struct {
	Events    <-chan transfer.Event
	Endpoints <-chan transfer.Endpoint
}

type Router struct {
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	broker     *Broker
	endpoints  map[string]transfer.Endpoint

	tasks chan func()
	done  chan struct{}

	logger       *zap.Logger
	dispatchOpts []dispatch.Option
	registryOpts []session.RegistryOption
}

// New creates a router that writes engine messages to outbound. Run must be
// called before any of the other methods return.
func New(outbound chan<- transfer.Msg, opts ...Option) *Router {
	r := &Router{
		endpoints: make(map[string]transfer.Endpoint),
		tasks:     make(chan func()),
		done:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.broker = NewBroker(r.logger)
	r.registry = session.NewRegistry(r.registryOpts...)
	dispatchOpts := append([]dispatch.Option{
		dispatch.WithLogger(r.logger),
		dispatch.WithDeclineHook(func(s *session.Session) {
			r.publish(SessionChanged, s, "")
		}),
	}, r.dispatchOpts...)
	r.dispatcher = dispatch.New(outbound, r.post, dispatchOpts...)
	return r
}

// Subscribe registers a listener for notifications. The channel is closed
// when the router stops or the returned function is called.
func (r *Router) Subscribe(buffer int) (<-chan Notification, func()) {
	return r.broker.Subscribe(buffer)
}

// Run processes inbound traffic until the event stream ends or ctx is
// cancelled. Sessions still in flight are marked disconnected before it
// returns.
func (r *Router) Run(ctx context.Context, in Inbound) error {
	defer close(r.done)
	defer r.broker.Close()

	events, endpoints := in.Events, in.Endpoints
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				r.logger.Info("engine event stream closed")
				r.shutdown()
				return nil
			}
			r.handleEvent(ev)
		case ep, ok := <-endpoints:
			if !ok {
				endpoints = nil
				continue
			}
			r.handleEndpoint(ep)
		case task := <-r.tasks:
			task()
		}
	}
}

// Done is closed once Run has returned.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Act applies a user decision to a session. Repeated consent decisions and
// actions that do not fit the session's state are dropped without error.
func (r *Router) Act(ctx context.Context, id transfer.ID, a session.Action) error {
	var err error
	if derr := r.do(ctx, func() {
		logger := r.logger.With(zap.String("transfer_id", string(id)), zap.String("action", a.Name()))
		s, ok := r.registry.Get(id)
		if !ok {
			logger.Warn("dropping action for unknown transfer")
			err = fmt.Errorf("%s for %s: %w", a.Name(), id, session.ErrUnknownSession)
			return
		}
		if aerr := r.dispatcher.Act(s, a); aerr != nil {
			switch {
			case errors.Is(aerr, dispatch.ErrAlreadyDecided):
				logger.Debug("ignoring repeated decision", zap.Error(aerr))
				return
			case errors.Is(aerr, dispatch.ErrNotApplicable):
				logger.Warn("ignoring action", zap.String("state", s.State.Name()), zap.Error(aerr))
				return
			}
			err = aerr
			return
		}
		r.publish(SessionChanged, s, "")
	}); derr != nil {
		return derr
	}
	return err
}

// Dismiss marks a session as seen by the user and evicts it once it has
// ended.
func (r *Router) Dismiss(ctx context.Context, id transfer.ID) error {
	var err error
	if derr := r.do(ctx, func() {
		if err = r.registry.Dismiss(id); err != nil {
			return
		}
		s, _ := r.registry.Get(id)
		if r.registry.EvictIfTerminalAndIdle(id) {
			r.dispatcher.CancelAutoDecline(id)
			r.logger.Debug("evicted session", zap.String("transfer_id", string(id)))
			r.publish(SessionEvicted, s, "")
			return
		}
		r.publish(SessionChanged, s, "")
	}); derr != nil {
		return derr
	}
	return err
}

// Send asks the engine to start an outgoing transfer and tracks it as a send
// session. A request without an id gets a fresh one.
func (r *Router) Send(ctx context.Context, req transfer.SendRequest) (transfer.ID, error) {
	if (len(req.Files) == 0) == (req.Text == nil) {
		return "", ErrInvalidRequest
	}
	if req.ID == "" {
		req.ID = transfer.ID(uuid.NewString())
	}
	var err error
	if derr := r.do(ctx, func() {
		s, created := r.registry.GetOrCreate(req.ID, session.KindSend)
		if !created {
			err = fmt.Errorf("sending %s: %w", req.ID, ErrDuplicateTransfer)
			return
		}
		s.DeviceName = req.DisplayName
		meta := &transfer.Meta{Files: append([]string(nil), req.Files...)}
		if req.Text != nil {
			meta.TextDescription = req.Text.Description
			meta.TextPayload = req.Text.Payload
			meta.TextType = req.Text.Type
		}
		s.LastEvent = &transfer.Event{ID: req.ID, Meta: meta}
		r.logger.Info("requesting outgoing transfer",
			zap.String("transfer_id", string(req.ID)),
			zap.String("address", req.Address),
			zap.Int("files", len(req.Files)))
		r.publish(SessionCreated, s, "")

		err = r.dispatcher.Send(transfer.Msg{
			Type:    transfer.ClientSendRequest,
			Payload: transfer.Payload{SendRequest: &req},
		})
		if err != nil {
			state := transfer.Disconnected
			tr := session.Apply(s, transfer.Event{ID: req.ID, State: &state})
			r.publish(SessionChanged, s, tr.Kind.Name())
		}
	}); derr != nil {
		return "", derr
	}
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

// Sessions returns snapshots of all tracked sessions, oldest first.
func (r *Router) Sessions(ctx context.Context) ([]session.Snapshot, error) {
	var snaps []session.Snapshot
	if err := r.do(ctx, func() {
		all := r.registry.All()
		snaps = make([]session.Snapshot, 0, len(all))
		for _, s := range all {
			snaps = append(snaps, s.Snapshot())
		}
	}); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Session returns a snapshot of a single session.
func (r *Router) Session(ctx context.Context, id transfer.ID) (session.Snapshot, error) {
	var (
		snap session.Snapshot
		err  error
	)
	if derr := r.do(ctx, func() {
		s, ok := r.registry.Get(id)
		if !ok {
			err = fmt.Errorf("%s: %w", id, session.ErrUnknownSession)
			return
		}
		snap = s.Snapshot()
	}); derr != nil {
		return session.Snapshot{}, derr
	}
	return snap, err
}

// Endpoints returns the devices currently visible on the network, sorted by
// name.
func (r *Router) Endpoints(ctx context.Context) ([]transfer.Endpoint, error) {
	var eps []transfer.Endpoint
	if err := r.do(ctx, func() {
		eps = make([]transfer.Endpoint, 0, len(r.endpoints))
		for _, ep := range r.endpoints {
			eps = append(eps, ep)
		}
		slices.SortFunc(eps, func(a, b transfer.Endpoint) int {
			if c := strings.Compare(a.Name, b.Name); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
	}); err != nil {
		return nil, err
	}
	return eps, nil
}

func (r *Router) handleEvent(ev transfer.Event) {
	state := ev.CurrentState()
	logger := r.logger.With(zap.String("transfer_id", string(ev.ID)), zap.String("state", state.Name()))

	s, ok := r.registry.Get(ev.ID)
	created := false
	if !ok {
		if !opensSession(state) {
			logger.Debug("ignoring event for untracked transfer")
			return
		}
		if ev.Meta == nil {
			logger.Warn("ignoring untracked transfer without metadata")
			return
		}
		s, created = r.registry.GetOrCreate(ev.ID, session.KindFor(state))
	}

	tr := session.Apply(s, ev)
	if tr.Kind == session.Ignored {
		logger.Debug("ignoring event for ended transfer", zap.String("ended_as", tr.From.Name()))
		return
	}
	if tr.Unexpected {
		logger.Warn("unexpected state transition",
			zap.String("from", tr.From.Name()),
			zap.String("to", tr.To.Name()))
	}
	if err := tr.Err(); err != nil {
		logger.Warn("malformed engine event", zap.Error(err))
	}

	switch tr.Kind {
	case session.AwaitingConsent:
		if tr.Entered && !tr.Malformed && !s.Decided() && s.Kind == session.KindReceive {
			r.dispatcher.ScheduleAutoDecline(s)
		}
	case session.InProgress:
		if tr.Entered {
			r.dispatcher.CancelAutoDecline(s.ID)
		}
	case session.Terminal:
		r.dispatcher.CancelAutoDecline(s.ID)
		logger.Info("transfer ended", zap.String("reason", s.FailureReason()))
	}

	kind := SessionChanged
	if created {
		kind = SessionCreated
	}
	r.publish(kind, s, tr.Kind.Name())
}

// opensSession reports whether an event for an untracked id starts a new
// session. Negotiation steps and endings are not shown on their own.
func opensSession(s transfer.State) bool {
	return s == transfer.WaitingForUserConsent || s.IsTransferring()
}

func (r *Router) handleEndpoint(ep transfer.Endpoint) {
	logger := r.logger.With(zap.String("endpoint_id", ep.ID))
	if ep.Present {
		if prev, ok := r.endpoints[ep.ID]; ok {
			if ep.Name == "" {
				ep.Name = prev.Name
			}
			if ep.IP == "" {
				ep.IP, ep.Port = prev.IP, prev.Port
			}
		}
		r.endpoints[ep.ID] = ep
		logger.Debug("endpoint discovered", zap.String("name", ep.Name), zap.String("address", ep.Address()))
	} else {
		if prev, ok := r.endpoints[ep.ID]; ok && ep.Name == "" {
			ep.Name = prev.Name
		}
		delete(r.endpoints, ep.ID)
		logger.Debug("endpoint lost")
	}
	r.broker.Publish(Notification{Kind: EndpointChanged, Endpoint: &ep})
}

func (r *Router) shutdown() {
	r.dispatcher.CancelAll()
	for _, s := range r.registry.Active() {
		state := transfer.Disconnected
		tr := session.Apply(s, transfer.Event{ID: s.ID, State: &state})
		r.logger.Info("marking transfer disconnected", zap.String("transfer_id", string(s.ID)))
		r.publish(SessionChanged, s, tr.Kind.Name())
	}
}

func (r *Router) publish(kind NotificationKind, s *session.Session, change string) {
	snap := s.Snapshot()
	r.broker.Publish(Notification{Kind: kind, Session: &snap, Change: change})
}

// post runs fn on the router goroutine. It is dropped if the router stopped.
func (r *Router) post(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.done:
	}
}

// do runs fn on the router goroutine and waits for it to finish.
func (r *Router) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.tasks <- task:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
