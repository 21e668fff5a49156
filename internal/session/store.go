package session

import (
	"context"
	"sync"

	"github.com/jxwalker/modshelf/internal/catalog"
)

// FetchFunc loads a fresh result set. It must honour ctx cancellation.
type FetchFunc func(ctx context.Context) ([]catalog.Item, error)

// Store is the single writer of a session's State. Readers take snapshots.
type Store struct {
	mu       sync.Mutex
	state    State
	next     Ticket
	cancel   context.CancelFunc
	onChange func(State)
}

// Option configures a Store.
type Option func(*Store)

// WithAutoSelectFirst makes the first category of every fresh result set the active
// tab when nothing else is selected.
func WithAutoSelectFirst() Option {
	return func(s *Store) { s.state.AutoSelectFirst = true }
}

// WithCategory sets the initial category tab.
func WithCategory(category string) Option {
	return func(s *Store) {
		s.state.Category = category
		s.state.LastCategory = category
	}
}

// OnChange registers fn to run, outside the store lock, after every applied action.
func OnChange(fn func(State)) Option {
	return func(s *Store) { s.onChange = fn }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current state. Slices are shared and must be treated
// as read-only.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a and reports whether it changed the state.
func (s *Store) Dispatch(a Action) bool {
	s.mu.Lock()
	next, applied := Reduce(s.state, a)
	if applied {
		s.state = next
	}
	fn := s.onChange
	s.mu.Unlock()
	if applied && fn != nil {
		fn(next)
	}
	return applied
}

// Begin starts a new fetch: it cancels the context of any fetch still in flight, issues
// a new ticket and returns a context derived from parent for the new fetch.
func (s *Store) Begin(parent context.Context) (Ticket, context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.next++
	t := s.next
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.mu.Unlock()

	s.Dispatch(FetchStartedAction{Ticket: t})
	return t, ctx
}

// Complete delivers the outcome of the fetch identified by t. It returns false when a
// newer fetch has started since, in which case the outcome is dropped.
func (s *Store) Complete(t Ticket, items []catalog.Item, err error) bool {
	var applied bool
	if err != nil {
		applied = s.Dispatch(FetchFailedAction{Ticket: t, Err: err})
	} else {
		applied = s.Dispatch(FetchCompletedAction{Ticket: t, Items: items})
	}
	if applied {
		s.mu.Lock()
		if s.next == t && s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}
	return applied
}

// Fetch runs fn under a fresh ticket and delivers its result. The returned bool is false
// when the result was superseded by a later fetch.
func (s *Store) Fetch(parent context.Context, fn FetchFunc) (bool, error) {
	t, ctx := s.Begin(parent)
	items, err := fn(ctx)
	return s.Complete(t, items, err), err
}

// Close cancels any fetch in flight.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
