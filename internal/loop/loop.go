// Package loop provides the single goroutine that owns interactive state:
// posted tasks run one at a time and frame callbacks fire on a fixed clock.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultRate is the frame clock in Hz.
const DefaultRate = 60

// ErrTaskPanicked is returned by Do when its task panics.
var ErrTaskPanicked = errors.New("loop: task panicked")

type frameFunc struct {
	fn     func(tick uint64)
	active atomic.Bool
}

// Loop is a serial task runner with a frame clock.
type Loop struct {
	tasks    chan func()
	interval time.Duration
	lg       *zap.SugaredLogger

	mu     sync.Mutex
	frames []*frameFunc

	tick atomic.Uint64
}

// New creates a loop ticking rate times per second (DefaultRate if <= 0).
func New(rate int, lg *zap.SugaredLogger) *Loop {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Loop{
		tasks:    make(chan func(), 256),
		interval: time.Second / time.Duration(rate),
		lg:       lg,
	}
}

// Tick is the number of frames fired so far.
func (l *Loop) Tick() uint64 { return l.tick.Load() }

// Run processes tasks and frames until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.lg.Infow("event loop started", "interval", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.lg.Infow("event loop stopped", "frames", l.Tick())
			return ctx.Err()
		case fn := <-l.tasks:
			l.run(fn)
		case <-ticker.C:
			l.frame()
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.lg.Errorw("task panicked", "panic", r)
		}
	}()
	fn()
}

func (l *Loop) frame() {
	tick := l.tick.Add(1)

	l.mu.Lock()
	frames := append([]*frameFunc(nil), l.frames...)
	l.mu.Unlock()

	for _, f := range frames {
		if f.active.Load() {
			l.run(func() { f.fn(tick) })
		}
	}
}

// Post queues fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) {
	l.tasks <- fn
}

// Do runs fn on the loop and waits for its result. If ctx ends first the
// task may still run later but its result is discarded. A panicking fn
// yields ErrTaskPanicked.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrTaskPanicked, r)
				panic(r)
			}
		}()
		done <- fn()
	}
	select {
	case l.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnFrame registers fn to run on every frame after those already
// registered. The returned func deregisters it; calling it more than once
// is harmless.
func (l *Loop) OnFrame(fn func(tick uint64)) (cancel func()) {
	f := &frameFunc{fn: fn}
	f.active.Store(true)

	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()

	return func() {
		if !f.active.Swap(false) {
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, have := range l.frames {
			if have == f {
				l.frames = append(l.frames[:i], l.frames[i+1:]...)
				return
			}
		}
	}
}
