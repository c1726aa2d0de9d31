package protocol

import (
	"context"
	"sync"
)

// Handler reacts to one message type. Replies, if any, are posted separately.
type Handler func(ctx context.Context, env Envelope)

// Router dispatches envelopes to handlers registered per Type.
type Router struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	fallback Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[Type]Handler)}
}

// Handle registers h for t, replacing any previous handler.
func (r *Router) Handle(t Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Fallback receives messages with no registered handler.
func (r *Router) Fallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Dispatch routes a single envelope and reports whether a handler ran.
func (r *Router) Dispatch(ctx context.Context, env Envelope) bool {
	r.mu.RLock()
	h, ok := r.handlers[env.Message.Type]
	fallback := r.fallback
	r.mu.RUnlock()
	if ok && h != nil {
		h(ctx, env)
		return true
	}
	if fallback != nil {
		fallback(ctx, env)
	}
	return false
}

// Serve dispatches from in until ctx ends or in is closed.
func (r *Router) Serve(ctx context.Context, in <-chan Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, env)
		}
	}
}
