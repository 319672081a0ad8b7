// Package actor provides the runtime the benchmark components run on: named
// single-threaded actors multiplexed on goroutines, exchanging messages
// locally through mailboxes and remotely over a framed TCP transport with
// per-pair FIFO delivery.
package actor

import (
	"sync"

	"go.uber.org/zap"
)

// Message is a delivered payload together with the path of its sender.
type Message struct {
	Sender  Path
	Payload any
}

// Receiver handles messages delivered to an actor. Receive is invoked by a
// single goroutine, one message at a time; handlers must not block on other
// actors of the same system.
type Receiver interface {
	Receive(ctx *Context, msg Message)
}

// Context is passed to every Receive invocation and is the actor's only
// handle on the outside world.
type Context struct {
	system *System
	self   Path
	log    *zap.SugaredLogger
}

// Self returns the actor's own path.
func (m *Context) Self() Path {
	return m.self
}

func (m *Context) Log() *zap.SugaredLogger {
	return m.log
}

// Tell sends payload to the actor at to. A nil serializer marks the message
// local-only: it is handed over as-is and cannot leave the system.
func (m *Context) Tell(to Path, payload any, ser Serializer) {
	m.system.Tell(m.self, to, payload, ser)
}

// TellAs sends payload with from stamped as the sender, so replies route to
// from rather than to this actor.
func (m *Context) TellAs(from, to Path, payload any, ser Serializer) {
	m.system.Tell(from, to, payload, ser)
}

// Reply sends payload back to the sender of msg.
func (m *Context) Reply(msg Message, payload any, ser Serializer) {
	m.system.Tell(m.self, msg.Sender, payload, ser)
}

// mailbox is an unbounded FIFO queue drained by the actor's goroutine.
// Unbounded matters: handlers send without blocking, so two actors flooding
// each other cannot deadlock.
type mailbox struct {
	mu    sync.Mutex
	queue []Message

	wake chan struct{}
	quit chan struct{}

	stopOnce sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (m *mailbox) push(msg Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return Message{}, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}

func (m *mailbox) stop() {
	m.stopOnce.Do(func() { close(m.quit) })
}

func (m *mailbox) stopped() bool {
	select {
	case <-m.quit:
		return true
	default:
		return false
	}
}

// run drains the mailbox until the actor is stopped.
func (m *mailbox) run(ctx *Context, r Receiver) {
	for {
		if m.stopped() {
			return
		}
		if msg, ok := m.pop(); ok {
			r.Receive(ctx, msg)
			continue
		}
		select {
		case <-m.quit:
			return
		case <-m.wake:
		}
	}
}
