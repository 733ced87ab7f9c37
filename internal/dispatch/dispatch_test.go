package dispatch_test

import (
	"testing"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/dispatch"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockTimer struct {
	mock.Mock
}

func (m *mockTimer) Stop() bool {
	args := m.Called()
	return args.Bool(0)
}

// fakeScheduler records scheduled tasks and runs them on demand.
type fakeScheduler struct {
	delays []time.Duration
	tasks  []func()
	timers []*mockTimer
}

func (f *fakeScheduler) AfterFunc(d time.Duration, fn func()) dispatch.Timer {
	t := &mockTimer{}
	t.On("Stop").Return(true).Maybe()
	f.delays = append(f.delays, d)
	f.tasks = append(f.tasks, fn)
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeScheduler) fire(i int) { f.tasks[i]() }

func inline(fn func()) { fn() }

func setup(t *testing.T) (*dispatch.Dispatcher, *fakeScheduler, chan transfer.Msg, *session.Registry) {
	outbound := make(chan transfer.Msg, 10)
	sched := &fakeScheduler{}
	d := dispatch.New(outbound, inline, dispatch.WithScheduler(sched), dispatch.WithLogger(zaptest.NewLogger(t)))
	return d, sched, outbound, session.NewRegistry()
}

func awaitingConsent(r *session.Registry, id transfer.ID) *session.Session {
	s, _ := r.GetOrCreate(id, session.KindReceive)
	state := transfer.WaitingForUserConsent
	session.Apply(s, transfer.Event{ID: id, State: &state, Meta: &transfer.Meta{TotalBytes: 1000, Files: []string{"x.txt"}}})
	return s
}

func drain(ch chan transfer.Msg) []transfer.Command {
	var cmds []transfer.Command
	for {
		select {
		case msg := <-ch:
			cmds = append(cmds, *msg.Payload.Command)
		default:
			return cmds
		}
	}
}

func TestRecordUserAction(t *testing.T) {
	t.Run("consent is final", func(t *testing.T) {
		d, _, _, r := setup(t)
		s := awaitingConsent(r, "a")
		require.NoError(t, d.RecordUserAction(s, session.ConsentAccept))
		assert.ErrorIs(t, d.RecordUserAction(s, session.ConsentDecline), dispatch.ErrAlreadyDecided)
		assert.ErrorIs(t, d.RecordUserAction(s, session.ConsentAccept), dispatch.ErrAlreadyDecided)
		assert.Equal(t, session.ConsentAccept, *s.UserAction)
	})

	t.Run("cancel after accept", func(t *testing.T) {
		d, _, _, r := setup(t)
		s := awaitingConsent(r, "a")
		require.NoError(t, d.RecordUserAction(s, session.ConsentAccept))
		require.NoError(t, d.RecordUserAction(s, session.TransferCancel))
		assert.Equal(t, session.TransferCancel, *s.UserAction)
		assert.ErrorIs(t, d.RecordUserAction(s, session.TransferCancel), dispatch.ErrAlreadyDecided)
		assert.ErrorIs(t, d.RecordUserAction(s, session.ConsentAccept), dispatch.ErrAlreadyDecided)
	})
}

func TestDispatch(t *testing.T) {
	d, _, _, r := setup(t)
	s := awaitingConsent(r, "a")
	assert.Equal(t, transfer.Command{ID: "a", Action: transfer.AcceptTransfer}, d.Dispatch(s, session.ConsentAccept))
	assert.Equal(t, transfer.Command{ID: "a", Action: transfer.RejectTransfer}, d.Dispatch(s, session.ConsentDecline))
	assert.Equal(t, transfer.Command{ID: "a", Action: transfer.CancelTransfer}, d.Dispatch(s, session.TransferCancel))
}

func TestAct(t *testing.T) {
	t.Run("accept is sent once", func(t *testing.T) {
		d, _, outbound, r := setup(t)
		s := awaitingConsent(r, "a")

		require.NoError(t, d.Act(s, session.ConsentAccept))
		assert.Error(t, d.Act(s, session.ConsentAccept))
		assert.Error(t, d.Act(s, session.ConsentDecline))

		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.AcceptTransfer}}, drain(outbound))
	})

	t.Run("full outbound buffer", func(t *testing.T) {
		outbound := make(chan transfer.Msg)
		sched := &fakeScheduler{}
		d := dispatch.New(outbound, inline, dispatch.WithScheduler(sched))
		s := awaitingConsent(session.NewRegistry(), "a")
		d.ScheduleAutoDecline(s)

		assert.ErrorIs(t, d.Act(s, session.ConsentAccept), dispatch.ErrEngineBusy)
		assert.Nil(t, s.UserAction)
		assert.Equal(t, 1, d.Pending())
		assert.Len(t, sched.tasks, 2)
	})

	t.Run("consent needs a waiting incoming transfer", func(t *testing.T) {
		d, _, outbound, r := setup(t)
		s := awaitingConsent(r, "a")
		state := transfer.Disconnected
		session.Apply(s, transfer.Event{ID: "a", State: &state})

		assert.ErrorIs(t, d.Act(s, session.ConsentAccept), dispatch.ErrNotApplicable)
		assert.ErrorIs(t, d.Act(s, session.ConsentDecline), dispatch.ErrNotApplicable)
		assert.Nil(t, s.UserAction)

		out, _ := r.GetOrCreate("s", session.KindSend)
		waiting := transfer.WaitingForUserConsent
		session.Apply(out, transfer.Event{ID: "s", State: &waiting, Meta: &transfer.Meta{TotalBytes: 10}})
		assert.ErrorIs(t, d.Act(out, session.ConsentAccept), dispatch.ErrNotApplicable)
		assert.Empty(t, drain(outbound))
	})

	t.Run("ended transfer cannot be cancelled", func(t *testing.T) {
		d, _, outbound, r := setup(t)
		s := awaitingConsent(r, "a")
		state := transfer.Finished
		session.Apply(s, transfer.Event{ID: "a", State: &state})

		assert.ErrorIs(t, d.Act(s, session.TransferCancel), dispatch.ErrNotApplicable)
		assert.Empty(t, drain(outbound))
	})

	t.Run("outgoing transfer can be cancelled", func(t *testing.T) {
		d, _, outbound, r := setup(t)
		s, _ := r.GetOrCreate("s", session.KindSend)
		require.NoError(t, d.Act(s, session.TransferCancel))
		assert.Equal(t, []transfer.Command{{ID: "s", Action: transfer.CancelTransfer}}, drain(outbound))
	})
}

func TestAutoDecline(t *testing.T) {
	t.Run("fires without user action", func(t *testing.T) {
		d, sched, outbound, r := setup(t)
		s := awaitingConsent(r, "a")
		d.ScheduleAutoDecline(s)
		require.Len(t, sched.tasks, 1)
		assert.Equal(t, dispatch.AutoDeclineTimeout, sched.delays[0])
		assert.Equal(t, 1, d.Pending())

		sched.fire(0)
		assert.Equal(t, session.ConsentDecline, *s.UserAction)
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.RejectTransfer}}, drain(outbound))
		assert.Equal(t, 0, d.Pending())

		// A late duplicate fire does nothing.
		sched.fire(0)
		assert.Empty(t, drain(outbound))
	})

	t.Run("user action cancels", func(t *testing.T) {
		d, sched, outbound, r := setup(t)
		s := awaitingConsent(r, "a")
		h := d.ScheduleAutoDecline(s)

		require.NoError(t, d.Act(s, session.ConsentAccept))
		assert.True(t, h.Cancelled())
		sched.timers[0].AssertCalled(t, "Stop")

		sched.fire(0)
		assert.Equal(t, session.ConsentAccept, *s.UserAction)
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.AcceptTransfer}}, drain(outbound))
	})

	t.Run("session moved on", func(t *testing.T) {
		d, sched, outbound, r := setup(t)
		s := awaitingConsent(r, "a")
		d.ScheduleAutoDecline(s)

		state := transfer.Disconnected
		session.Apply(s, transfer.Event{ID: "a", State: &state})
		sched.fire(0)
		assert.Nil(t, s.UserAction)
		assert.Empty(t, drain(outbound))
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		d, sched, _, r := setup(t)
		s := awaitingConsent(r, "a")
		h := d.ScheduleAutoDecline(s)
		h.Cancel()
		h.Cancel()
		d.CancelAutoDecline("a")
		d.CancelAll()
		sched.timers[0].AssertNumberOfCalls(t, "Stop", 1)
	})

	t.Run("rescheduling replaces pending task", func(t *testing.T) {
		d, sched, outbound, r := setup(t)
		s := awaitingConsent(r, "a")
		first := d.ScheduleAutoDecline(s)
		d.ScheduleAutoDecline(s)
		assert.True(t, first.Cancelled())
		assert.Equal(t, 1, d.Pending())

		sched.fire(0)
		assert.Nil(t, s.UserAction)
		sched.fire(1)
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.RejectTransfer}}, drain(outbound))
	})

	t.Run("decline hook", func(t *testing.T) {
		outbound := make(chan transfer.Msg, 1)
		sched := &fakeScheduler{}
		var declined []transfer.ID
		d := dispatch.New(outbound, inline,
			dispatch.WithScheduler(sched),
			dispatch.WithDeclineHook(func(s *session.Session) { declined = append(declined, s.ID) }))
		s := awaitingConsent(session.NewRegistry(), "a")
		d.ScheduleAutoDecline(s)
		sched.fire(0)
		assert.Equal(t, []transfer.ID{"a"}, declined)
	})

	t.Run("busy engine is retried", func(t *testing.T) {
		outbound := make(chan transfer.Msg, 1)
		outbound <- transfer.Msg{Type: transfer.ClientSendRequest}
		sched := &fakeScheduler{}
		d := dispatch.New(outbound, inline, dispatch.WithScheduler(sched))
		s := awaitingConsent(session.NewRegistry(), "a")
		d.ScheduleAutoDecline(s)

		sched.fire(0)
		assert.Nil(t, s.UserAction)
		require.Len(t, sched.tasks, 2)
		assert.Equal(t, 1, d.Pending())

		<-outbound
		sched.fire(1)
		assert.Equal(t, session.ConsentDecline, *s.UserAction)
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.RejectTransfer}}, drain(outbound))
	})

	t.Run("real timer", func(t *testing.T) {
		outbound := make(chan transfer.Msg, 1)
		posted := make(chan func(), 1)
		d := dispatch.New(outbound, func(fn func()) { posted <- fn }, dispatch.WithTimeout(10*time.Millisecond))
		s := awaitingConsent(session.NewRegistry(), "a")
		d.ScheduleAutoDecline(s)

		select {
		case fn := <-posted:
			fn()
		case <-time.After(time.Second):
			t.Fatal("auto decline did not fire")
		}
		msg := <-outbound
		assert.Equal(t, transfer.RejectTransfer, msg.Payload.Command.Action)
	})
}
