package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/dispatch"
	"github.com/SpatiumPortae/quickshare/internal/router"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubTimer struct{}

func (stubTimer) Stop() bool { return true }

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (f *fakeScheduler) AfterFunc(_ time.Duration, fn func()) dispatch.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, fn)
	return stubTimer{}
}

func (f *fakeScheduler) scheduled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeScheduler) fire(i int) {
	f.mu.Lock()
	fn := f.tasks[i]
	f.mu.Unlock()
	fn()
}

type harness struct {
	router    *router.Router
	events    chan transfer.Event
	endpoints chan transfer.Endpoint
	outbound  chan transfer.Msg
	notes     <-chan router.Notification
	sched     *fakeScheduler
	errc      chan error
	cancel    context.CancelFunc
}

func start(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		events:    make(chan transfer.Event),
		endpoints: make(chan transfer.Endpoint),
		outbound:  make(chan transfer.Msg, 16),
		sched:     &fakeScheduler{},
		errc:      make(chan error, 1),
	}
	h.router = router.New(h.outbound,
		router.WithLogger(zaptest.NewLogger(t)),
		router.WithDispatcherOptions(dispatch.WithScheduler(h.sched)))
	h.notes, _ = h.router.Subscribe(64)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.errc <- h.router.Run(ctx, router.Inbound{Events: h.events, Endpoints: h.endpoints})
	}()
	t.Cleanup(func() {
		cancel()
		<-h.router.Done()
	})
	return h
}

func (h *harness) next(t *testing.T) router.Notification {
	t.Helper()
	select {
	case n, ok := <-h.notes:
		require.True(t, ok, "notification channel closed")
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	return router.Notification{}
}

func (h *harness) commands() []transfer.Command {
	var cmds []transfer.Command
	for {
		select {
		case msg := <-h.outbound:
			if msg.Payload.Command != nil {
				cmds = append(cmds, *msg.Payload.Command)
			}
		default:
			return cmds
		}
	}
}

func (h *harness) sessions(t *testing.T) []session.Snapshot {
	t.Helper()
	snaps, err := h.router.Sessions(context.Background())
	require.NoError(t, err)
	return snaps
}

func event(id transfer.ID, state transfer.State, meta *transfer.Meta) transfer.Event {
	return transfer.Event{ID: id, State: &state, Meta: meta}
}

func meta(total, acked uint64) *transfer.Meta {
	return &transfer.Meta{TotalBytes: total, AckBytes: acked, Files: []string{"report.pdf"}}
}

func TestConsent(t *testing.T) {
	ctx := context.Background()

	t.Run("accept is sent once", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		n := h.next(t)
		assert.Equal(t, router.SessionCreated, n.Kind)
		assert.Equal(t, "AwaitingConsent", n.Change)
		assert.True(t, n.Session.AwaitingConsent())

		require.NoError(t, h.router.Act(ctx, "a", session.ConsentAccept))
		require.NoError(t, h.router.Act(ctx, "a", session.ConsentAccept))
		require.NoError(t, h.router.Act(ctx, "a", session.ConsentDecline))
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.AcceptTransfer}}, h.commands())

		n = h.next(t)
		assert.Equal(t, router.SessionChanged, n.Kind)
		assert.Equal(t, "ConsentAccept", n.Session.UserAction)
	})

	t.Run("repeated request keeps one session", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		assert.Len(t, h.sessions(t), 1)
		assert.Equal(t, 1, h.sched.scheduled())
	})

	t.Run("unanswered request is declined", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		require.Equal(t, 1, h.sched.scheduled())

		h.next(t)
		h.sched.fire(0)
		n := h.next(t)
		assert.Equal(t, "ConsentDecline", n.Session.UserAction)
		snaps := h.sessions(t)
		require.Len(t, snaps, 1)
		assert.Equal(t, "ConsentDecline", snaps[0].UserAction)
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.RejectTransfer}}, h.commands())

		// The user is too late.
		require.NoError(t, h.router.Act(ctx, "a", session.ConsentAccept))
		assert.Empty(t, h.commands())
	})

	t.Run("decision before timeout", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		require.NoError(t, h.router.Act(ctx, "a", session.ConsentAccept))
		h.sched.fire(0)
		h.sessions(t)
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.AcceptTransfer}}, h.commands())
	})

	t.Run("ended request cannot be answered", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		h.events <- event("a", transfer.Disconnected, nil)

		require.NoError(t, h.router.Act(ctx, "a", session.ConsentAccept))
		require.NoError(t, h.router.Act(ctx, "a", session.TransferCancel))
		assert.Empty(t, h.commands())
		snap, err := h.router.Session(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, snap.UserAction)
		assert.Equal(t, transfer.Disconnected, snap.State)
	})

	t.Run("outgoing transfer asks no consent", func(t *testing.T) {
		h := start(t)
		_, err := h.router.Send(ctx, transfer.SendRequest{ID: "s", Address: "10.0.0.1:1", Files: []string{"a"}})
		require.NoError(t, err)
		<-h.outbound
		h.events <- event("s", transfer.SentIntroduction, nil)
		h.events <- event("s", transfer.WaitingForUserConsent, meta(1000, 0))

		snap, err := h.router.Session(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, "Send", snap.Kind)
		assert.False(t, snap.AwaitingConsent())

		require.NoError(t, h.router.Act(ctx, "s", session.ConsentAccept))
		assert.Empty(t, h.commands())
		assert.Equal(t, 0, h.sched.scheduled())
	})

	t.Run("busy engine does not stall the router", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		for i := 0; i < cap(h.outbound); i++ {
			h.outbound <- transfer.Msg{Type: transfer.ClientSendRequest}
		}

		assert.ErrorIs(t, h.router.Act(ctx, "a", session.ConsentAccept), dispatch.ErrEngineBusy)
		h.events <- event("b", transfer.WaitingForUserConsent, meta(1000, 0))
		assert.Len(t, h.sessions(t), 2)

		assert.Empty(t, h.commands())
		require.NoError(t, h.router.Act(ctx, "a", session.ConsentAccept))
		assert.Equal(t, []transfer.Command{{ID: "a", Action: transfer.AcceptTransfer}}, h.commands())
	})

	t.Run("unknown session", func(t *testing.T) {
		h := start(t)
		assert.ErrorIs(t, h.router.Act(ctx, "nope", session.ConsentAccept), session.ErrUnknownSession)
		assert.Empty(t, h.commands())
	})

	t.Run("request without metadata", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, nil)
		assert.Empty(t, h.sessions(t))
		assert.Equal(t, 0, h.sched.scheduled())
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("finished session is evicted after dismissal", func(t *testing.T) {
		h := start(t)
		h.events <- event("b", transfer.WaitingForUserConsent, meta(1000, 0))
		require.NoError(t, h.router.Act(ctx, "b", session.ConsentAccept))
		h.events <- event("b", transfer.ReceivingFiles, meta(1000, 500))
		h.events <- event("b", transfer.Finished, meta(1000, 1000))
		h.events <- event("b", transfer.Finished, meta(1000, 1000))

		snaps := h.sessions(t)
		require.Len(t, snaps, 1)
		assert.Equal(t, transfer.Finished, snaps[0].State)
		assert.Equal(t, float64(1), snaps[0].Progress)
		assert.True(t, snaps[0].Dismissible)

		require.NoError(t, h.router.Dismiss(ctx, "b"))
		assert.Empty(t, h.sessions(t))
		assert.ErrorIs(t, h.router.Dismiss(ctx, "b"), session.ErrUnknownSession)
	})

	t.Run("active session survives dismissal", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		require.NoError(t, h.router.Dismiss(ctx, "a"))
		assert.Len(t, h.sessions(t), 1)
	})

	t.Run("stray endings are ignored", func(t *testing.T) {
		h := start(t)
		h.events <- event("d", transfer.WaitingForUserConsent, meta(1000, 0))
		before, err := h.router.Session(ctx, "d")
		require.NoError(t, err)

		h.events <- event("c", transfer.Disconnected, nil)
		h.events <- event("f", transfer.Cancelled, meta(10, 0))
		h.events <- event("e", transfer.SentUkeyServerInit, nil)

		snaps := h.sessions(t)
		require.Len(t, snaps, 1)
		assert.Equal(t, before, snaps[0])
		assert.Equal(t, transfer.WaitingForUserConsent, snaps[0].State)
		assert.True(t, snaps[0].AwaitingConsent())
	})

	t.Run("progress reaches presentation", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		h.events <- event("a", transfer.ReceivingFiles, meta(1000, 250))
		snap, err := h.router.Session(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, transfer.ReceivingFiles, snap.State)
		assert.Equal(t, uint64(250), snap.AckBytes)
		assert.InDelta(t, 0.25, snap.Progress, 1e-9)
		assert.Equal(t, []string{"report.pdf"}, snap.Files)
	})

	t.Run("cancelled by peer", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		require.NoError(t, h.router.Act(ctx, "a", session.ConsentAccept))
		h.events <- event("a", transfer.Cancelled, nil)
		snap, err := h.router.Session(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "cancelled by sender", snap.FailureReason)
		assert.Equal(t, []string{"report.pdf"}, snap.Files)
	})

	t.Run("shutdown disconnects active sessions", func(t *testing.T) {
		h := start(t)
		h.events <- event("a", transfer.WaitingForUserConsent, meta(1000, 0))
		h.events <- event("b", transfer.WaitingForUserConsent, meta(1000, 0))
		h.events <- event("b", transfer.Rejected, meta(1000, 0))
		close(h.events)

		select {
		case err := <-h.errc:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("router did not stop")
		}

		last := make(map[transfer.ID]transfer.State)
		for n := range h.notes {
			last[n.Session.ID] = n.Session.State
		}
		assert.Equal(t, transfer.Disconnected, last["a"])
		assert.Equal(t, transfer.Rejected, last["b"])
		assert.ErrorIs(t, h.router.Act(ctx, "a", session.TransferCancel), router.ErrClosed)
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("files", func(t *testing.T) {
		h := start(t)
		id, err := h.router.Send(ctx, transfer.SendRequest{
			DisplayName: "Pixel",
			Address:     "192.168.1.20:4000",
			Files:       []string{"/tmp/a.txt"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		msg := <-h.outbound
		assert.Equal(t, transfer.ClientSendRequest, msg.Type)
		assert.Equal(t, id, msg.Payload.SendRequest.ID)

		n := h.next(t)
		assert.Equal(t, router.SessionCreated, n.Kind)
		assert.Equal(t, "Send", n.Session.Kind)
		assert.Equal(t, "Pixel", n.Session.DeviceName)

		h.events <- event(id, transfer.SentUkeyClientInit, nil)
		n = h.next(t)
		assert.Equal(t, "Unobserved", n.Change)
		assert.Equal(t, []string{"/tmp/a.txt"}, n.Session.Files)
	})

	t.Run("invalid request", func(t *testing.T) {
		h := start(t)
		_, err := h.router.Send(ctx, transfer.SendRequest{Address: "10.0.0.1:1"})
		assert.ErrorIs(t, err, router.ErrInvalidRequest)
		_, err = h.router.Send(ctx, transfer.SendRequest{
			Address: "10.0.0.1:1",
			Files:   []string{"a"},
			Text:    &transfer.Text{Payload: "hi"},
		})
		assert.ErrorIs(t, err, router.ErrInvalidRequest)
	})

	t.Run("duplicate id", func(t *testing.T) {
		h := start(t)
		req := transfer.SendRequest{ID: "x", Address: "10.0.0.1:1", Text: &transfer.Text{Payload: "hi"}}
		_, err := h.router.Send(ctx, req)
		require.NoError(t, err)
		_, err = h.router.Send(ctx, req)
		assert.ErrorIs(t, err, router.ErrDuplicateTransfer)
	})
}

func TestEndpoints(t *testing.T) {
	ctx := context.Background()
	h := start(t)

	h.endpoints <- transfer.Endpoint{ID: "2", Name: "Tablet", IP: "10.0.0.2", Port: 80, Present: true}
	h.endpoints <- transfer.Endpoint{ID: "1", Name: "Phone", IP: "10.0.0.1", Port: 80, Present: true}
	h.endpoints <- transfer.Endpoint{ID: "1", IP: "10.0.0.9", Port: 81, Present: true}

	eps, err := h.router.Endpoints(ctx)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "Phone", eps[0].Name)
	assert.Equal(t, "10.0.0.9:81", eps[0].Address())
	assert.Equal(t, "Tablet", eps[1].Name)

	h.endpoints <- transfer.Endpoint{ID: "2"}
	eps, err = h.router.Endpoints(ctx)
	require.NoError(t, err)
	require.Len(t, eps, 1)

	var lost router.Notification
	for i := 0; i < 4; i++ {
		lost = h.next(t)
	}
	assert.Equal(t, router.EndpointChanged, lost.Kind)
	assert.False(t, lost.Endpoint.Present)
	assert.Equal(t, "Tablet", lost.Endpoint.Name)
}
