package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// MemoryBroker is an in-process broadcast channel with the same fanout
// semantics as the shared topic: every subscribed queue receives a copy of
// every written message. It backs tests and single-process multi-replica
// setups; it implements MessageWriter, and its queues implement
// MessageFetcher.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*MemoryQueue
	closed bool
}

// NewMemoryBroker creates an empty broker with no queues bound.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*MemoryQueue)}
}

// Subscribe binds (or returns the existing) queue with the given name.
// Messages written before a queue was bound are not replayed to it.
func (b *MemoryBroker) Subscribe(queue string) *MemoryQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		q = &MemoryQueue{wake: make(chan struct{}, 1)}
		b.queues[queue] = q
	}
	return q
}

// WriteMessages implements MessageWriter, fanning each message out to every
// bound queue.
func (b *MemoryBroker) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("broker closed")
	}
	for _, q := range b.queues {
		q.push(msgs...)
	}
	return nil
}

// Close implements MessageWriter.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// MemoryQueue is one bound queue of a MemoryBroker.
type MemoryQueue struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	inflight int
	wake     chan struct{}
}

// push appends copies of msgs and wakes one blocked fetcher.
func (q *MemoryQueue) push(msgs ...kafka.Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msgs...)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// FetchMessage implements MessageFetcher. It blocks until a message is
// available or ctx is done.
func (q *MemoryQueue) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		q.mu.Lock()
		if len(q.msgs) > 0 {
			m := q.msgs[0]
			q.msgs = q.msgs[1:]
			q.inflight++
			q.mu.Unlock()
			return m, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// CommitMessages implements MessageFetcher.
func (q *MemoryQueue) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight -= len(msgs)
	return nil
}

// Uncommitted returns the number of fetched-but-unacknowledged messages.
func (q *MemoryQueue) Uncommitted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// Close implements MessageFetcher.
func (q *MemoryQueue) Close() error { return nil }
