package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers published messages in order", func(t *testing.T) {
		b := NewMemoryBroker()

		var mu sync.Mutex
		received := []string{}
		done := make(chan bool)

		b.Subscribe(TopicMatchQueue, func(_ context.Context, payload string) error {
			mu.Lock()
			received = append(received, payload)
			count := len(received)
			mu.Unlock()
			if count == 3 {
				close(done)
			}
			return nil
		})

		require.NoError(t, b.Publish(ctx, TopicMatchQueue, "one"))
		require.NoError(t, b.Publish(ctx, TopicMatchQueue, "two"))
		require.NoError(t, b.Publish(ctx, TopicMatchQueue, "three"))

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("messages were not delivered")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"one", "two", "three"}, received)
	})

	t.Run("topics are independent", func(t *testing.T) {
		b := NewMemoryBroker()

		got := make(chan string, 1)
		b.Subscribe(TopicScoreJobs, func(_ context.Context, payload string) error {
			got <- payload
			return nil
		})

		require.NoError(t, b.Publish(ctx, TopicMatchQueue, "wrong topic"))
		require.NoError(t, b.Publish(ctx, TopicScoreJobs, "right topic"))

		select {
		case payload := <-got:
			assert.Equal(t, "right topic", payload)
		case <-time.After(2 * time.Second):
			t.Fatal("message was not delivered")
		}
	})

	t.Run("publish after close errors", func(t *testing.T) {
		b := NewMemoryBroker()
		b.Close()
		assert.Error(t, b.Publish(ctx, TopicMatchQueue, "late"))
	})
}

func TestMemoryCountdown(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	require.NoError(t, b.NewCountdown(ctx, "scan-1", 3))

	zero, err := b.Decrement(ctx, "scan-1")
	require.NoError(t, err)
	assert.False(t, zero)

	zero, err = b.Decrement(ctx, "scan-1")
	require.NoError(t, err)
	assert.False(t, zero)

	zero, err = b.Decrement(ctx, "scan-1")
	require.NoError(t, err)
	assert.True(t, zero)

	_, err = b.Decrement(ctx, "scan-1")
	assert.Error(t, err)
}
