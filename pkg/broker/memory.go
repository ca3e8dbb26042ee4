package broker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

const memoryBufferSize = 256

// MemoryBroker delivers messages through in-process channels. Handlers run
// on one goroutine per subscription, in publish order per topic.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]chan string
	wg     sync.WaitGroup
	closed bool

	counterMu sync.Mutex
	counters  map[string]int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics:   map[string]chan string{},
		counters: map[string]int{},
	}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker is closed")
	}
	ch := b.topic(topic)
	b.mu.Unlock()

	select {
	case ch <- payload:
		return nil
	default:
		return errors.Errorf("topic %s is full", topic)
	}
}

func (b *MemoryBroker) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	ch := b.topic(topic)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for payload := range ch {
			// Delivery is at-most-once here; the durable broker is the
			// one that retries.
			_ = handler(context.Background(), payload)
		}
	}()
}

// Close stops delivery and waits for in-flight handlers to finish.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.topics {
		close(ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *MemoryBroker) topic(name string) chan string {
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan string, memoryBufferSize)
		b.topics[name] = ch
	}
	return ch
}

func (b *MemoryBroker) NewCountdown(_ context.Context, key string, n int) error {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()
	b.counters[key] = n
	return nil
}

func (b *MemoryBroker) Decrement(_ context.Context, key string) (bool, error) {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()

	remaining, ok := b.counters[key]
	if !ok {
		return false, errors.Errorf("unknown countdown %s", key)
	}
	remaining--
	if remaining <= 0 {
		delete(b.counters, key)
		return true, nil
	}
	b.counters[key] = remaining
	return false, nil
}
