package audio

import (
	"context"
	"sync"
	"time"
)

// Mixer sums every registered source into one PCM frame per 20ms tick.
// Silence is emitted when nothing plays so listener encoders never starve.
type Mixer struct {
	frameCh chan []int16

	mu      sync.RWMutex
	sources []Source
	frames  uint64
}

// NewMixer creates an idle mixer.
func NewMixer() *Mixer {
	return &Mixer{
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of mixed PCM frames (20ms each).
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// Add registers a source. Adding the same source twice is a no-op.
func (m *Mixer) Add(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.sources {
		if have == s {
			return
		}
	}
	m.sources = append(m.sources, s)
}

// Remove unregisters a source.
func (m *Mixer) Remove(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, have := range m.sources {
		if have == s {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			return
		}
	}
}

// FramesMixed returns the number of frames produced so far.
func (m *Mixer) FramesMixed() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames
}

// MixOnce pulls one frame from every source and returns the clipped sum.
func (m *Mixer) MixOnce() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := make([]float64, FrameSamples)
	for _, s := range m.sources {
		frame, gain := s.Next()
		if frame == nil || gain == 0 {
			continue
		}
		Accumulate(acc, frame, gain)
	}
	m.frames++
	return Clip(acc)
}

// Run emits mixed frames at real-time rate. Blocks until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := m.MixOnce()
		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		default:
			// nobody draining; drop to keep the clock honest
		}
	}
}
