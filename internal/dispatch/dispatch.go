// Package dispatch turns user decisions into engine commands. It allows a
// single consent decision per session and declines consent requests the user
// leaves unanswered.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"go.uber.org/zap"
)

// AutoDeclineTimeout is how long a consent request waits for the user.
const AutoDeclineTimeout = 10 * time.Second

var (
	ErrAlreadyDecided = errors.New("a decision was already recorded for this transfer")
	ErrNotApplicable  = errors.New("action does not apply to the transfer in its current state")
	ErrEngineBusy     = errors.New("engine is not accepting commands")
)

type Option func(*Dispatcher)

func WithScheduler(s Scheduler) Option {
	return func(d *Dispatcher) {
		d.scheduler = s
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithDeclineHook registers f to run on the owning goroutine after a consent
// request was declined automatically.
func WithDeclineHook(f func(*session.Session)) Option {
	return func(d *Dispatcher) {
		d.declined = f
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher must be used from the goroutine that owns the sessions. Timers
// fire through post, which has to run the callback on that goroutine.
type Dispatcher struct {
	outbound  chan<- transfer.Msg
	post      func(func())
	scheduler Scheduler
	timeout   time.Duration
	timers    map[transfer.ID]*Handle
	declined  func(*session.Session)
	logger    *zap.Logger
}

// New creates a dispatcher writing commands to outbound.
func New(outbound chan<- transfer.Msg, post func(func()), opts ...Option) *Dispatcher {
	d := &Dispatcher{
		outbound:  outbound,
		post:      post,
		scheduler: clockScheduler{},
		timeout:   AutoDeclineTimeout,
		timers:    make(map[transfer.ID]*Handle),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RecordUserAction stores the action on the session. Consent can only be given
// to an incoming transfer waiting for it, and an ended transfer cannot be
// cancelled. A consent decision is final. A cancel is accepted after any
// consent decision, but only once.
func (d *Dispatcher) RecordUserAction(s *session.Session, a session.Action) error {
	if err := applicable(s, a); err != nil {
		return err
	}
	if s.UserAction != nil {
		prev := *s.UserAction
		if a != session.TransferCancel || prev == session.TransferCancel {
			return fmt.Errorf("%s after %s: %w", a.Name(), prev.Name(), ErrAlreadyDecided)
		}
	}
	s.UserAction = &a
	d.CancelAutoDecline(s.ID)
	return nil
}

func applicable(s *session.Session, a session.Action) error {
	switch a {
	case session.ConsentAccept, session.ConsentDecline:
		if s.Kind != session.KindReceive {
			return fmt.Errorf("%s on %s transfer: %w", a.Name(), s.Kind.Name(), ErrNotApplicable)
		}
		if s.State != transfer.WaitingForUserConsent {
			return fmt.Errorf("%s in state %s: %w", a.Name(), s.State.Name(), ErrNotApplicable)
		}
	case session.TransferCancel:
		if s.State.IsTerminal() {
			return fmt.Errorf("%s in state %s: %w", a.Name(), s.State.Name(), ErrNotApplicable)
		}
	}
	return nil
}

// Dispatch maps an action to the engine command for the session.
func (d *Dispatcher) Dispatch(s *session.Session, a session.Action) transfer.Command {
	cmd := transfer.Command{ID: s.ID}
	switch a {
	case session.ConsentAccept:
		cmd.Action = transfer.AcceptTransfer
	case session.ConsentDecline:
		cmd.Action = transfer.RejectTransfer
	case session.TransferCancel:
		cmd.Action = transfer.CancelTransfer
	}
	return cmd
}

// Act records the action and forwards the resulting command to the engine.
// Nothing is sent if the action is rejected. If the engine does not take the
// command the session is left as it was, including a pending auto decline.
func (d *Dispatcher) Act(s *session.Session, a session.Action) error {
	prev := s.UserAction
	_, pending := d.timers[s.ID]
	if err := d.RecordUserAction(s, a); err != nil {
		return err
	}
	cmd := d.Dispatch(s, a)
	d.logger.Info("dispatching user action",
		zap.String("transfer_id", string(s.ID)),
		zap.String("action", a.Name()),
		zap.String("command", cmd.Action.Name()))
	err := d.Send(transfer.Msg{
		Type:    transfer.ClientCommand,
		Payload: transfer.Payload{Command: &cmd},
	})
	if err != nil {
		s.UserAction = prev
		if pending {
			d.ScheduleAutoDecline(s)
		}
		return err
	}
	return nil
}

// Send writes msg to the engine without waiting. It fails with ErrEngineBusy
// when the outbound buffer is full.
func (d *Dispatcher) Send(msg transfer.Msg) error {
	select {
	case d.outbound <- msg:
		return nil
	default:
		d.logger.Warn("dropping engine message, outbound buffer is full", zap.String("type", msg.Type.Name()))
		return fmt.Errorf("sending %s: %w", msg.Type.Name(), ErrEngineBusy)
	}
}

// ScheduleAutoDecline declines the session's consent request if the user has
// not decided within the timeout. Scheduling again replaces the pending task.
// A decline the engine does not take is retried after another timeout.
func (d *Dispatcher) ScheduleAutoDecline(s *session.Session) *Handle {
	d.CancelAutoDecline(s.ID)

	h := &Handle{}
	logger := d.logger.With(zap.String("transfer_id", string(s.ID)))
	h.timer = d.scheduler.AfterFunc(d.timeout, func() {
		d.post(func() {
			if d.timers[s.ID] == h {
				delete(d.timers, s.ID)
			}
			if !h.claim() {
				return
			}
			if s.State != transfer.WaitingForUserConsent || s.Decided() {
				logger.Debug("auto decline no longer applies", zap.String("state", s.State.Name()))
				return
			}
			logger.Info("consent request timed out, declining")
			if err := d.Act(s, session.ConsentDecline); err != nil {
				logger.Warn("auto declining transfer", zap.Error(err))
				if errors.Is(err, ErrEngineBusy) {
					d.ScheduleAutoDecline(s)
				}
				return
			}
			if d.declined != nil {
				d.declined(s)
			}
		})
	})
	d.timers[s.ID] = h
	return h
}

// CancelAutoDecline stops the pending auto decline for id, if any.
func (d *Dispatcher) CancelAutoDecline(id transfer.ID) {
	if h, ok := d.timers[id]; ok {
		h.Cancel()
		delete(d.timers, id)
	}
}

// CancelAll stops every pending auto decline.
func (d *Dispatcher) CancelAll() {
	for id, h := range d.timers {
		h.Cancel()
		delete(d.timers, id)
	}
}

// Pending returns the number of scheduled auto declines.
func (d *Dispatcher) Pending() int {
	return len(d.timers)
}
