// Package bus carries addressed messages between partitions.
//
// Delivery is push-triggered: Send enqueues on the destination and immediately drains
// it. There is no timer and no retry; a message is handed to the handlers registered at
// drain time and then discarded.
package bus

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/warren/internal/partition"
	"github.com/google/uuid"
)

// Message is one queued message. The queue owns Payload once the message is sent.
type Message struct {
	ID      string
	From    partition.Key
	To      partition.Key
	Type    string
	Payload []byte
	SentAt  time.Time
}

// Handler processes a delivered message.
type Handler func(Message) error

type handlerKey struct {
	partition partition.Key
	typ       string
}

// Bus is the process-wide message bus. Queues and handlers are guarded by separate
// locks, and handlers always run without either held.
type Bus struct {
	queueMu sync.RWMutex
	queues  map[partition.Key][]Message

	handlerMu sync.RWMutex
	handlers  map[handlerKey][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		queues:   make(map[partition.Key][]Message),
		handlers: make(map[handlerKey][]Handler),
	}
}

// Send enqueues a message on to's queue and then drains that queue.
// It returns the number of handler invocations made by the drain.
func (b *Bus) Send(from, to partition.Key, typ string, payload []byte) int {
	msg := Message{
		ID:      uuid.New().String(),
		From:    from,
		To:      to,
		Type:    typ,
		Payload: payload,
		SentAt:  time.Now(),
	}

	b.queueMu.Lock()
	b.queues[to] = append(b.queues[to], msg)
	b.queueMu.Unlock()

	return b.Deliver(to)
}

// Broadcast sends one copy of the message to every partition that has at least one
// handler for typ, in ascending key order. It returns the number of partitions sent to.
func (b *Bus) Broadcast(from partition.Key, typ string, payload []byte) int {
	b.handlerMu.RLock()
	var targets []partition.Key
	for k, hs := range b.handlers {
		if k.typ == typ && len(hs) > 0 {
			targets = append(targets, k.partition)
		}
	}
	b.handlerMu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	for _, to := range targets {
		b.Send(from, to, typ, copyPayload(payload))
	}
	return len(targets)
}

// RegisterHandler appends h to the handlers for (p, typ).
func (b *Bus) RegisterHandler(p partition.Key, typ string, h Handler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()

	k := handlerKey{partition: p, typ: typ}
	b.handlers[k] = append(b.handlers[k], h)
}

// Deliver drains p's queue. The queue is swapped out under the lock, so messages sent
// while handlers run are queued for the next drain rather than lost or repeated.
// Handler errors and panics are logged per handler. It returns the number of handler
// invocations.
func (b *Bus) Deliver(p partition.Key) int {
	b.queueMu.Lock()
	pending := b.queues[p]
	delete(b.queues, p)
	b.queueMu.Unlock()

	invoked := 0
	for _, msg := range pending {
		b.handlerMu.RLock()
		hs := append([]Handler(nil), b.handlers[handlerKey{partition: p, typ: msg.Type}]...)
		b.handlerMu.RUnlock()

		for _, h := range hs {
			invoked++
			if err := safeInvoke(h, msg); err != nil {
				log.Printf("[Bus] Handler for '%s' on %s failed (message %s from %s): %v",
					msg.Type, p, msg.ID, msg.From, err)
			}
		}
	}
	return invoked
}

// ClearPartition drops p's queued messages and handlers.
func (b *Bus) ClearPartition(p partition.Key) {
	b.queueMu.Lock()
	dropped := len(b.queues[p])
	delete(b.queues, p)
	b.queueMu.Unlock()

	b.handlerMu.Lock()
	for k := range b.handlers {
		if k.partition == p {
			delete(b.handlers, k)
		}
	}
	b.handlerMu.Unlock()

	if dropped > 0 {
		log.Printf("[Bus] Dropped %d undelivered message(s) for %s", dropped, p)
	}
}

// Pending returns the number of messages queued for p.
func (b *Bus) Pending(p partition.Key) int {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()
	return len(b.queues[p])
}

// Handlers returns the number of handlers registered for (p, typ).
func (b *Bus) Handlers(p partition.Key, typ string) int {
	b.handlerMu.RLock()
	defer b.handlerMu.RUnlock()
	return len(b.handlers[handlerKey{partition: p, typ: typ}])
}

// Partitions returns every partition with queued messages or handlers, ascending.
func (b *Bus) Partitions() []partition.Key {
	seen := make(map[partition.Key]bool)

	b.queueMu.RLock()
	for p, q := range b.queues {
		if len(q) > 0 {
			seen[p] = true
		}
	}
	b.queueMu.RUnlock()

	b.handlerMu.RLock()
	for k := range b.handlers {
		seen[k.partition] = true
	}
	b.handlerMu.RUnlock()

	out := make([]partition.Key, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func safeInvoke(h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(msg)
}

func copyPayload(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
