package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	assert.Zero(t, b.ListenerCount())

	l1 := b.Subscribe()
	l2 := b.Subscribe()
	assert.Equal(t, 2, b.ListenerCount())

	b.Unsubscribe(l1)
	assert.Equal(t, 1, b.ListenerCount())
	b.Unsubscribe(l1)
	assert.Equal(t, 1, b.ListenerCount())

	b.Unsubscribe(l2)
	assert.Zero(t, b.ListenerCount())

	select {
	case <-l2.Done():
	default:
		t.Fatal("done not closed after unsubscribe")
	}
}

func TestRunDeliversToAllListeners(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 1)
	go b.Run(ctx, source)

	source <- []int16{42, -42}
	for i, l := range listeners {
		select {
		case got := <-l.C:
			assert.Equal(t, []int16{42, -42}, got, "listener %d", i)
		case <-time.After(time.Second):
			t.Fatalf("listener %d timed out", i)
		}
	}
}

func TestPublishDropsForSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe()

	for i := 0; i < listenerBuffer+50; i++ {
		b.Publish([]int16{int16(i)})
	}

	assert.Len(t, slow.C, listenerBuffer)
	assert.Equal(t, uint64(50), b.Dropped())

	// oldest frames are kept
	first := <-slow.C
	assert.Equal(t, int16(0), first[0])
}

func TestRunStops(t *testing.T) {
	t.Run("context cancel", func(t *testing.T) {
		b := NewBroadcaster()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			b.Run(ctx, make(chan []int16))
			close(done)
		}()
		cancel()
		require.Eventually(t, func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("source closed", func(t *testing.T) {
		b := NewBroadcaster()
		source := make(chan []int16)
		done := make(chan struct{})
		go func() {
			b.Run(context.Background(), source)
			close(done)
		}()
		close(source)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("broadcaster did not stop after source closed")
		}
	})
}

func TestMP3Args(t *testing.T) {
	args := mp3Args(128)
	assert.Contains(t, args, "128k")
	assert.Contains(t, args, "48000")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}
