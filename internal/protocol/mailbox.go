package protocol

import "sync"

const defaultBuffer = 16

// Envelope is a delivered message plus the id of the sending endpoint.
type Envelope struct {
	From    string
	Message Message
}

// Mailbox is a bounded queue with non-blocking delivery. A full or closed
// mailbox drops the message.
type Mailbox struct {
	mu     sync.RWMutex
	ch     chan Envelope
	closed bool
}

func NewMailbox(buffer int) *Mailbox {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Mailbox{ch: make(chan Envelope, buffer)}
}

// Deliver enqueues env and reports whether it was accepted.
func (m *Mailbox) Deliver(env Envelope) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- env:
		return true
	default:
		return false
	}
}

// C exposes the receive side.
func (m *Mailbox) C() <-chan Envelope {
	return m.ch
}

// Close stops further delivery and closes the channel once.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Closed reports whether Close was called.
func (m *Mailbox) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Port is one endpoint of a page/agent conversation: it receives on its own
// inbox and posts into the peer's.
type Port struct {
	id    string
	inbox *Mailbox
	peer  *Mailbox
}

func NewPort(id string, inbox, peer *Mailbox) *Port {
	return &Port{id: id, inbox: inbox, peer: peer}
}

func (p *Port) ID() string { return p.id }

// Post sends msg to the peer without waiting for any reply.
func (p *Port) Post(msg Message) bool {
	if p == nil || p.peer == nil {
		return false
	}
	return p.peer.Deliver(Envelope{From: p.id, Message: msg})
}

// Receive returns the inbox channel.
func (p *Port) Receive() <-chan Envelope {
	return p.inbox.C()
}

// Close releases the inbox. The peer is left untouched.
func (p *Port) Close() {
	p.inbox.Close()
}
