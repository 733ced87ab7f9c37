package session_test

import (
	"testing"
	"time"

	"github.com/SpatiumPortae/quickshare/internal/eta"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func event(id transfer.ID, state transfer.State, meta *transfer.Meta) transfer.Event {
	return transfer.Event{ID: id, State: &state, Meta: meta}
}

func TestApply(t *testing.T) {
	t.Run("consent", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		device := "Pixel 8"
		ev := event("a", transfer.WaitingForUserConsent, &transfer.Meta{TotalBytes: 1000, Files: []string{"x.txt"}, PinCode: "1234"})
		ev.SourceDeviceName = &device

		tr := session.Apply(s, ev)
		assert.Equal(t, session.AwaitingConsent, tr.Kind)
		assert.True(t, tr.Entered)
		assert.False(t, tr.Unexpected)
		assert.NoError(t, tr.Err())
		assert.Equal(t, transfer.WaitingForUserConsent, s.State)
		assert.Equal(t, "Pixel 8", s.DeviceName)

		snap := s.Snapshot()
		assert.True(t, snap.AwaitingConsent())
		assert.Equal(t, []string{"x.txt"}, snap.Files)
		assert.Equal(t, "1234", snap.PinCode)
	})

	t.Run("outgoing transfer never asks for consent", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("s", session.KindSend)
		session.Apply(s, event("s", transfer.SentIntroduction, nil))
		session.Apply(s, event("s", transfer.WaitingForUserConsent, &transfer.Meta{TotalBytes: 10}))

		snap := s.Snapshot()
		assert.Equal(t, "Send", snap.Kind)
		assert.Equal(t, transfer.WaitingForUserConsent, snap.State)
		assert.False(t, snap.AwaitingConsent())
	})

	t.Run("negotiation is unobserved", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("s", session.KindSend)
		tr := session.Apply(s, event("s", transfer.SentUkeyClientInit, nil))
		assert.Equal(t, session.Unobserved, tr.Kind)
		assert.NoError(t, tr.Err())

		tr = session.Apply(s, event("s", transfer.SentUkeyClientFinish, nil))
		assert.Equal(t, session.Unobserved, tr.Kind)
		assert.False(t, tr.Unexpected)
	})

	t.Run("absent state is initial", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("s", session.KindSend)
		tr := session.Apply(s, transfer.Event{ID: "s"})
		assert.Equal(t, session.Unobserved, tr.Kind)
		assert.Equal(t, transfer.Initial, s.State)
		assert.False(t, tr.Entered)
	})

	t.Run("progress feeds estimator", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		r := session.NewRegistry(session.WithEstimatorOptions(eta.WithClock(clock)))
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.WaitingForUserConsent, &transfer.Meta{TotalBytes: 1000}))

		tr := session.Apply(s, event("a", transfer.ReceivingFiles, &transfer.Meta{TotalBytes: 1000, AckBytes: 100}))
		assert.Equal(t, session.InProgress, tr.Kind)
		assert.True(t, tr.Entered)

		clock.now = clock.now.Add(1100 * time.Millisecond)
		tr = session.Apply(s, event("a", transfer.ReceivingFiles, &transfer.Meta{TotalBytes: 1000, AckBytes: 300}))
		assert.False(t, tr.Entered)
		clock.now = clock.now.Add(1100 * time.Millisecond)
		session.Apply(s, event("a", transfer.ReceivingFiles, &transfer.Meta{TotalBytes: 1000, AckBytes: 300}))

		assert.Equal(t, []uint64{200, 100}, s.Eta.Samples())
		snap := s.Snapshot()
		assert.Equal(t, "4 seconds", snap.Eta)
		assert.InDelta(t, 0.3, snap.Progress, 0.001)
	})

	t.Run("malformed progress", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.WaitingForUserConsent, &transfer.Meta{TotalBytes: 10}))
		tr := session.Apply(s, event("a", transfer.ReceivingFiles, nil))
		assert.Equal(t, session.InProgress, tr.Kind)
		assert.ErrorIs(t, tr.Err(), session.ErrMalformedEvent)
		assert.Equal(t, uint64(0), s.Eta.TotalTransferred())
	})

	t.Run("malformed consent", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		tr := session.Apply(s, event("a", transfer.WaitingForUserConsent, nil))
		assert.Equal(t, session.AwaitingConsent, tr.Kind)
		assert.True(t, tr.Malformed)
	})

	t.Run("terminal freezes session", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.WaitingForUserConsent, &transfer.Meta{TotalBytes: 10}))
		tr := session.Apply(s, event("a", transfer.Finished, &transfer.Meta{TotalBytes: 10, AckBytes: 10}))
		assert.Equal(t, session.Terminal, tr.Kind)

		tr = session.Apply(s, event("a", transfer.ReceivingFiles, &transfer.Meta{TotalBytes: 10, AckBytes: 5}))
		assert.Equal(t, session.Ignored, tr.Kind)
		assert.Equal(t, transfer.Finished, s.State)
		assert.Equal(t, 1.0, s.Snapshot().Progress)
	})

	t.Run("unexpected transition is applied", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.WaitingForUserConsent, &transfer.Meta{TotalBytes: 10}))
		tr := session.Apply(s, event("a", transfer.SentUkeyServerInit, nil))
		assert.True(t, tr.Unexpected)
		assert.Equal(t, transfer.SentUkeyServerInit, s.State)
	})
}

func TestCancellation(t *testing.T) {
	t.Run("by sender", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.ReceivingFiles, &transfer.Meta{TotalBytes: 10}))
		tr := session.Apply(s, event("a", transfer.Cancelled, nil))
		assert.True(t, tr.CancelledByPeer)
		assert.Equal(t, "cancelled by sender", s.FailureReason())
	})

	t.Run("by receiver", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindSend)
		session.Apply(s, event("a", transfer.SendingFiles, &transfer.Meta{TotalBytes: 10}))
		session.Apply(s, event("a", transfer.Cancelled, nil))
		assert.Equal(t, "cancelled by receiver", s.FailureReason())
	})

	t.Run("locally", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.ReceivingFiles, &transfer.Meta{TotalBytes: 10}))
		cancel := session.TransferCancel
		s.UserAction = &cancel
		tr := session.Apply(s, event("a", transfer.Cancelled, nil))
		assert.False(t, tr.CancelledByPeer)
		assert.Equal(t, "cancelled", s.FailureReason())
	})
}

func TestFailureReason(t *testing.T) {
	r := session.NewRegistry()
	s, _ := r.GetOrCreate("a", session.KindReceive)
	assert.Empty(t, s.FailureReason())

	session.Apply(s, event("a", transfer.Disconnected, nil))
	assert.Equal(t, "disconnected", s.FailureReason())

	s, _ = r.GetOrCreate("b", session.KindReceive)
	decline := session.ConsentDecline
	s.UserAction = &decline
	session.Apply(s, event("b", transfer.Rejected, nil))
	assert.Equal(t, "declined", s.FailureReason())

	s, _ = r.GetOrCreate("c", session.KindSend)
	session.Apply(s, event("c", transfer.Rejected, nil))
	assert.Equal(t, "rejected", s.FailureReason())
	require.True(t, s.Snapshot().Dismissible)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, session.CanTransition(transfer.Initial, transfer.ReceivedConnectionRequest))
	assert.True(t, session.CanTransition(transfer.WaitingForUserConsent, transfer.ReceivingFiles))
	assert.True(t, session.CanTransition(transfer.ReceivingFiles, transfer.ReceivingFiles))
	assert.True(t, session.CanTransition(transfer.SentUkeyServerInit, transfer.Disconnected))
	assert.False(t, session.CanTransition(transfer.WaitingForUserConsent, transfer.SendingFiles))
	assert.False(t, session.CanTransition(transfer.Finished, transfer.Finished))
}
