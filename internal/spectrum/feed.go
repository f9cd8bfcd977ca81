// Package spectrum turns the live capture stream into byte-scaled frequency
// snapshots for the visualizer.
package spectrum

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Decibel range mapped onto 0..255.
const (
	MinDecibels = -100.0
	MaxDecibels = -30.0
)

// DefaultSize is the analysis window in samples.
const DefaultSize = 256

// Feed keeps the most recent window of captured samples and computes a
// magnitude snapshot on demand. It implements capture.Tap.
type Feed struct {
	size int
	fft  *fourier.FFT

	mu         sync.Mutex
	ring       []float64
	pos        int
	filled     int
	active     bool
	sampleRate int

	// scratch, only touched under mu
	win  []float64
	coef []complex128
}

// NewFeed returns a feed with the given window size. Sizes that are not a
// power of two of at least 32 fall back to DefaultSize.
func NewFeed(size int) *Feed {
	if size < 32 || size&(size-1) != 0 {
		size = DefaultSize
	}
	return &Feed{
		size: size,
		fft:  fourier.NewFFT(size),
		ring: make([]float64, size),
		win:  make([]float64, size),
	}
}

// Bins is the snapshot length.
func (f *Feed) Bins() int { return f.size / 2 }

// SampleRate reports the rate of the attached stream, or 0 when detached.
func (f *Feed) SampleRate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleRate
}

// Active reports whether a capture stream is attached.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *Feed) Attach(sampleRate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
	f.active = true
	f.sampleRate = sampleRate
}

func (f *Feed) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
	f.active = false
	f.sampleRate = 0
}

func (f *Feed) reset() {
	clear(f.ring)
	f.pos = 0
	f.filled = 0
}

// Write appends samples to the ring. Writes while detached are ignored.
func (f *Feed) Write(samples []int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}
	if len(samples) > f.size {
		samples = samples[len(samples)-f.size:]
	}
	for _, s := range samples {
		f.ring[f.pos] = float64(s) / 32768
		f.pos = (f.pos + 1) % f.size
	}
	f.filled = min(f.size, f.filled+len(samples))
}

// Snapshot returns Bins() bytes. It is all zeros when no stream is attached.
func (f *Feed) Snapshot() []byte {
	out := make([]byte, f.Bins())

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return out
	}

	// oldest sample first; an unfilled window is zero-padded at the front
	n := copy(f.win, f.ring[f.pos:])
	copy(f.win[n:], f.ring[:f.pos])
	window.Blackman(f.win)
	f.coef = f.fft.Coefficients(f.coef, f.win)

	scale := 255 / (MaxDecibels - MinDecibels)
	for k := range out {
		mag := abs(f.coef[k]) / float64(f.size)
		db := math.Inf(-1)
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		v := scale * (db - MinDecibels)
		switch {
		case v <= 0 || math.IsNaN(v):
			out[k] = 0
		case v >= 255:
			out[k] = 255
		default:
			out[k] = byte(v)
		}
	}
	return out
}

func abs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
