// Package registry is an actor-owned ordered set of event handlers.
package registry

import "github.com/Arceliar/phony"

// Registry holds handlers in subscription order. Handlers are invoked
// on the emitting goroutine so they may unsubscribe themselves.
type Registry[T any] struct {
	phony.Inbox
	next     uint64
	order    []uint64
	handlers map[uint64]func(T)
}

func (r *Registry[T]) Add(h func(T)) func() {
	var id uint64
	phony.Block(r, func() {
		if r.handlers == nil {
			r.handlers = make(map[uint64]func(T))
		}
		r.next++
		id = r.next
		r.handlers[id] = h
		r.order = append(r.order, id)
	})
	return func() {
		phony.Block(r, func() {
			if _, ok := r.handlers[id]; !ok {
				return
			}
			delete(r.handlers, id)
			for i, o := range r.order {
				if o == id {
					r.order = append(r.order[:i:i], r.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *Registry[T]) Emit(v T) {
	var hs []func(T)
	phony.Block(r, func() {
		hs = make([]func(T), 0, len(r.order))
		for _, id := range r.order {
			hs = append(hs, r.handlers[id])
		}
	})
	for _, h := range hs {
		h(v)
	}
}

func (r *Registry[T]) Len() int {
	var n int
	phony.Block(r, func() { n = len(r.handlers) })
	return n
}
