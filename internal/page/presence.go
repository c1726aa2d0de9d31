package page

import (
	"sync"
	"sync/atomic"
)

// Presence is the page's visibility and signed-in role, shared with every
// component that decides between toast, native and deferred delivery.
type Presence struct {
	visible atomic.Bool

	mu   sync.RWMutex
	role string
}

func NewPresence(visible bool, role string) *Presence {
	p := &Presence{role: role}
	p.visible.Store(visible)
	return p
}

func (p *Presence) Visible() bool { return p.visible.Load() }

func (p *Presence) SetVisible(v bool) { p.visible.Store(v) }

func (p *Presence) Role() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

func (p *Presence) SetRole(role string) {
	p.mu.Lock()
	p.role = role
	p.mu.Unlock()
}
