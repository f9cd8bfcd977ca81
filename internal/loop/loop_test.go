package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startLoop(t *testing.T, rate int) *Loop {
	t.Helper()
	l := New(rate, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestDoReturnsResult(t *testing.T) {
	l := startLoop(t, 100)
	want := errors.New("boom")

	assert.NoError(t, l.Do(context.Background(), func() error { return nil }))
	assert.ErrorIs(t, l.Do(context.Background(), func() error { return want }), want)
}

func TestTasksRunSerially(t *testing.T) {
	l := startLoop(t, 100)

	var (
		wg      sync.WaitGroup
		running int
		maxSeen int
		order   []int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		l.Post(func() {
			defer wg.Done()
			running++
			maxSeen = max(maxSeen, running)
			order = append(order, i)
			running--
		})
	}
	wg.Wait()

	var got []int
	require.NoError(t, l.Do(context.Background(), func() error {
		got = append(got, order...)
		return nil
	}))
	assert.Equal(t, 1, maxSeen)
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	l := startLoop(t, 100)
	l.Post(func() { panic("bad task") })
	assert.NoError(t, l.Do(context.Background(), func() error { return nil }))
}

func TestDoReportsPanic(t *testing.T) {
	l := startLoop(t, 100)

	err := l.Do(context.Background(), func() error { panic("bad task") })
	require.ErrorIs(t, err, ErrTaskPanicked)
	assert.Contains(t, err.Error(), "bad task")

	// the loop keeps serving
	assert.NoError(t, l.Do(context.Background(), func() error { return nil }))
}

func TestFrameOrderAndCancel(t *testing.T) {
	l := startLoop(t, 500)

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) func(uint64) {
		return func(uint64) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}
	cancelA := l.OnFrame(record("a"))
	cancelB := l.OnFrame(record("b"))
	defer cancelB()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) >= 4
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a", "b", "a", "b"}, calls[:4])
	mu.Unlock()

	// cancel on the loop so no frame is mid-flight
	require.NoError(t, l.Do(context.Background(), func() error {
		cancelA()
		cancelA()
		mu.Lock()
		calls = nil
		mu.Unlock()
		return nil
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) >= 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, calls, "a")
}

func TestFrameTickIncreases(t *testing.T) {
	l := startLoop(t, 500)
	ticks := make(chan uint64, 8)
	cancel := l.OnFrame(func(tick uint64) {
		select {
		case ticks <- tick:
		default:
		}
	})
	defer cancel()

	first := <-ticks
	second := <-ticks
	assert.Greater(t, second, first)
	assert.GreaterOrEqual(t, l.Tick(), second)
}

func TestDoHonorsContext(t *testing.T) {
	// not running, so the task is never picked up
	l := New(10, zap.NewNop().Sugar())
	for i := 0; i < cap(l.tasks); i++ {
		l.Post(func() {})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Do(ctx, func() error { return nil }), context.DeadlineExceeded)
}
