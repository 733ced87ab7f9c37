package session_test

import (
	"testing"

	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	r := session.NewRegistry()

	s1, created := r.GetOrCreate("a", session.KindReceive)
	assert.True(t, created)
	session.Apply(s1, event("a", transfer.WaitingForUserConsent, &transfer.Meta{TotalBytes: 1000}))

	s2, created := r.GetOrCreate("a", session.KindReceive)
	assert.False(t, created)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, s1, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestEviction(t *testing.T) {
	t.Run("requires dismissal", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("b", session.KindReceive)
		session.Apply(s, event("b", transfer.Finished, nil))
		session.Apply(s, event("b", transfer.Finished, nil))

		assert.False(t, r.EvictIfTerminalAndIdle("b"))
		assert.Equal(t, 1, r.Len())

		require.NoError(t, r.Dismiss("b"))
		assert.True(t, r.EvictIfTerminalAndIdle("b"))
		assert.Equal(t, 0, r.Len())
	})

	t.Run("never evicts active sessions", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.ReceivingFiles, &transfer.Meta{TotalBytes: 10}))
		require.NoError(t, r.Dismiss("a"))
		assert.False(t, r.EvictIfTerminalAndIdle("a"))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("unknown session", func(t *testing.T) {
		r := session.NewRegistry()
		assert.ErrorIs(t, r.Dismiss("nope"), session.ErrUnknownSession)
		assert.False(t, r.EvictIfTerminalAndIdle("nope"))
	})

	t.Run("reused id gets a new generation", func(t *testing.T) {
		r := session.NewRegistry()
		s, _ := r.GetOrCreate("a", session.KindReceive)
		session.Apply(s, event("a", transfer.Rejected, nil))
		require.NoError(t, r.Dismiss("a"))
		require.True(t, r.EvictIfTerminalAndIdle("a"))

		again, created := r.GetOrCreate("a", session.KindReceive)
		assert.True(t, created)
		assert.Greater(t, again.Generation, s.Generation)
		assert.Equal(t, transfer.Initial, again.State)
	})
}

func TestListing(t *testing.T) {
	r := session.NewRegistry()
	a, _ := r.GetOrCreate("a", session.KindReceive)
	r.GetOrCreate("b", session.KindSend)
	r.GetOrCreate("c", session.KindReceive)
	session.Apply(a, event("a", transfer.Finished, nil))

	var ids []transfer.ID
	for _, s := range r.All() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []transfer.ID{"a", "b", "c"}, ids)

	ids = nil
	for _, s := range r.Active() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []transfer.ID{"b", "c"}, ids)
}
