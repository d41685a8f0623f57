package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/dyluth/warren/internal/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	t.Run("no handler: enqueued, drained, nothing invoked", func(t *testing.T) {
		b := New()

		invoked := b.Send(2, partition.Authority, "ping", []byte(`"hello"`))
		assert.Equal(t, 0, invoked)
		assert.Equal(t, 0, b.Pending(partition.Authority))
	})

	t.Run("handlers run in registration order", func(t *testing.T) {
		b := New()
		var got []string
		b.RegisterHandler(1, "ping", func(m Message) error {
			got = append(got, "first:"+string(m.Payload))
			return nil
		})
		b.RegisterHandler(1, "ping", func(m Message) error {
			got = append(got, "second:"+string(m.Payload))
			return nil
		})
		b.RegisterHandler(1, "pong", func(m Message) error {
			got = append(got, "wrong type")
			return nil
		})

		invoked := b.Send(partition.Authority, 1, "ping", []byte("x"))
		assert.Equal(t, 2, invoked)
		assert.Equal(t, []string{"first:x", "second:x"}, got)
	})

	t.Run("message metadata", func(t *testing.T) {
		b := New()
		var msg Message
		b.RegisterHandler(3, "hello", func(m Message) error {
			msg = m
			return nil
		})

		b.Send(5, 3, "hello", nil)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, partition.Key(5), msg.From)
		assert.Equal(t, partition.Key(3), msg.To)
		assert.Equal(t, "hello", msg.Type)
		assert.False(t, msg.SentAt.IsZero())
	})

	t.Run("errors and panics are isolated per handler", func(t *testing.T) {
		b := New()
		calls := 0
		b.RegisterHandler(1, "x", func(Message) error { return errors.New("bad") })
		b.RegisterHandler(1, "x", func(Message) error { panic("worse") })
		b.RegisterHandler(1, "x", func(Message) error {
			calls++
			return nil
		})

		assert.Equal(t, 3, b.Send(0, 1, "x", nil))
		assert.Equal(t, 1, calls)
	})
}

func TestDeliver_SendDuringDelivery(t *testing.T) {
	b := New()
	var seen []string

	b.RegisterHandler(1, "chain", func(m Message) error {
		seen = append(seen, string(m.Payload))
		if string(m.Payload) == "first" {
			// Sending to ourselves from inside a handler must not be lost or doubled.
			b.Send(1, 1, "chain", []byte("second"))
		}
		return nil
	})

	b.Send(0, 1, "chain", []byte("first"))
	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, 0, b.Pending(1))
}

func TestBroadcast(t *testing.T) {
	b := New()
	var order []partition.Key
	var mu sync.Mutex
	record := func(p partition.Key) Handler {
		return func(m Message) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, p)
			return nil
		}
	}

	b.RegisterHandler(4, "news", record(4))
	b.RegisterHandler(partition.Authority, "news", record(partition.Authority))
	b.RegisterHandler(2, "news", record(2))
	b.RegisterHandler(3, "other", record(3))

	sent := b.Broadcast(2, "news", []byte("payload"))
	assert.Equal(t, 3, sent)
	assert.Equal(t, []partition.Key{partition.Authority, 2, 4}, order)

	assert.Equal(t, 0, b.Broadcast(2, "nobody-listens", nil))
}

func TestClearPartition(t *testing.T) {
	b := New()
	b.RegisterHandler(1, "x", func(Message) error { return nil })
	b.RegisterHandler(2, "x", func(Message) error { return nil })

	b.queueMu.Lock()
	b.queues[1] = append(b.queues[1], Message{Type: "x"})
	b.queueMu.Unlock()
	require.Equal(t, 1, b.Pending(1))

	assert.Equal(t, []partition.Key{1, 2}, b.Partitions())

	b.ClearPartition(1)
	assert.Equal(t, 0, b.Pending(1))
	assert.Equal(t, 0, b.Handlers(1, "x"))
	assert.Equal(t, 1, b.Handlers(2, "x"))
	assert.Equal(t, []partition.Key{2}, b.Partitions())
}

func TestConcurrentSend(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0
	b.RegisterHandler(1, "tick", func(Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Send(partition.Key(i), 1, "tick", nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, count)
	assert.Equal(t, 0, b.Pending(1))
}
