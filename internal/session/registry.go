package session

import (
	"fmt"

	"github.com/SpatiumPortae/quickshare/internal/eta"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"golang.org/x/exp/slices"
)

type RegistryOption func(*Registry)

// WithEstimatorOptions configures the estimators of new sessions.
func WithEstimatorOptions(opts ...eta.Option) RegistryOption {
	return func(r *Registry) {
		r.etaOpts = opts
	}
}

// Registry maps transfer ids to sessions. It never holds two sessions for
// the same id.
type Registry struct {
	sessions map[transfer.ID]*Session
	nextGen  uint64
	etaOpts  []eta.Option
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{sessions: make(map[transfer.ID]*Session)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the session for id, creating it if needed. The boolean
// reports whether the session was created.
func (r *Registry) GetOrCreate(id transfer.ID, kind Kind) (*Session, bool) {
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	r.nextGen++
	s := &Session{
		ID:         id,
		Generation: r.nextGen,
		Kind:       kind,
		State:      transfer.Initial,
		Eta:        eta.New(0, r.etaOpts...),
	}
	r.sessions[id] = s
	return s, true
}

func (r *Registry) Get(id transfer.ID) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Dismiss records that the presentation layer no longer shows the session.
func (r *Registry) Dismiss(id transfer.ID) error {
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("dismissing %s: %w", id, ErrUnknownSession)
	}
	s.Dismissed = true
	return nil
}

// EvictIfTerminalAndIdle removes the session if it has ended, is not moving
// bytes and was dismissed. It reports whether the session was removed.
func (r *Registry) EvictIfTerminalAndIdle(id transfer.ID) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if !s.State.IsTerminal() || s.State.IsTransferring() || !s.Dismissed {
		return false
	}
	delete(r.sessions, id)
	return true
}

// All returns every session in creation order.
func (r *Registry) All() []*Session {
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	slices.SortFunc(all, func(a, b *Session) int {
		switch {
		case a.Generation < b.Generation:
			return -1
		case a.Generation > b.Generation:
			return 1
		default:
			return 0
		}
	})
	return all
}

// Active returns the sessions that have not reached a terminal state.
func (r *Registry) Active() []*Session {
	var active []*Session
	for _, s := range r.All() {
		if !s.State.IsTerminal() {
			active = append(active, s)
		}
	}
	return active
}

func (r *Registry) Len() int {
	return len(r.sessions)
}
