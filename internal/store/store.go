// Package store holds the serialized state machines of the relay transport.
// A Store owns its state inside a phony actor: every mutation is an Action
// applied by one reducer, one at a time, and readers only ever see copies
// taken between two actions.
package store

import (
	"beacon_p2p/internal/utils/log"
	"context"

	"github.com/Arceliar/phony"
	"go.uber.org/zap"
)

type (
	// Action is a state transition request.
	Action interface {
		isAction()
	}

	// Reducer returns the state after applying a. It must not mutate s.
	Reducer[S any] func(s S, a Action) S

	// Persister saves the parts of next that a changed.
	Persister[S any] func(ctx context.Context, next S, a Action) error

	Store[S any] struct {
		phony.Inbox
		state   S
		reduce  Reducer[S]
		clone   func(S) S
		persist Persister[S]
	}
)

func New[S any](initial S, reduce Reducer[S], clone func(S) S, persist Persister[S]) *Store[S] {
	return &Store[S]{
		state:   initial,
		reduce:  reduce,
		clone:   clone,
		persist: persist,
	}
}

// Dispatch applies a and returns a copy of the resulting state. A failed
// save is returned but the in-memory transition stands.
func (s *Store[S]) Dispatch(ctx context.Context, a Action) (S, error) {
	var (
		next S
		err  error
	)
	phony.Block(s, func() {
		s.state = s.reduce(s.state, a)
		if s.persist != nil {
			err = s.persist(ctx, s.state, a)
		}
		next = s.clone(s.state)
	})
	if err != nil {
		log.Warn("persist state failed", zap.Error(err))
	}
	return next, err
}

// State returns a copy of the current state.
func (s *Store[S]) State() S {
	var out S
	phony.Block(s, func() {
		out = s.clone(s.state)
	})
	return out
}
