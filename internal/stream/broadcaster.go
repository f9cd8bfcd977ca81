// Package stream delivers the mixed playback audio to listeners over HTTP
// and WebRTC, and the particle field over WebSocket.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// listenerBuffer is about three seconds of 20ms frames.
const listenerBuffer = 150

// Broadcaster fans each mixed PCM frame out to every subscribed listener.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	dropped atomic.Uint64
}

// Listener receives frames until it is unsubscribed.
type Listener struct {
	C    chan []int16
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[*Listener]struct{})}
}

// Subscribe adds a listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel. Calling it twice is a no-op.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[l]; !ok {
		return
	}
	delete(b.listeners, l)
	close(l.done)
}

// ListenerCount returns the number of subscribed listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped counts frames skipped for listeners whose buffer was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Publish hands frame to every listener without blocking.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			b.dropped.Add(1)
		}
	}
}

// Run publishes frames from source until it closes or ctx ends.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.Publish(frame)
		}
	}
}
