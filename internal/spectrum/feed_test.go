package spectrum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n, bin, size int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(size)))
	}
	return out
}

func TestSnapshotZeroWhenDetached(t *testing.T) {
	f := NewFeed(DefaultSize)
	snap := f.Snapshot()
	require.Len(t, snap, 128)
	assert.Equal(t, make([]byte, 128), snap)

	// writes before attach are dropped
	f.Write(sine(256, 10, 256, 8000))
	assert.Equal(t, make([]byte, 128), f.Snapshot())
}

func TestSnapshotPeaksAtToneBin(t *testing.T) {
	f := NewFeed(DefaultSize)
	f.Attach(48000)
	f.Write(sine(512, 10, 256, 100))

	snap := f.Snapshot()
	require.Len(t, snap, 128)

	peak := 0
	for k, v := range snap {
		if v > snap[peak] {
			peak = k
		}
	}
	assert.Equal(t, 10, peak)
	assert.Greater(t, snap[10], snap[9])
	assert.Greater(t, snap[10], snap[11])
}

func TestSnapshotClearedOnDetach(t *testing.T) {
	f := NewFeed(DefaultSize)
	f.Attach(16000)
	assert.True(t, f.Active())
	assert.Equal(t, 16000, f.SampleRate())

	f.Write(sine(256, 20, 256, 4000))
	assert.NotEqual(t, make([]byte, 128), f.Snapshot())

	f.Detach()
	assert.False(t, f.Active())
	assert.Equal(t, make([]byte, 128), f.Snapshot())

	// a reattach starts from an empty window
	f.Attach(16000)
	assert.Equal(t, make([]byte, 128), f.Snapshot())
}

func TestNewFeedSize(t *testing.T) {
	tests := []struct {
		size int
		bins int
	}{
		{256, 128},
		{1024, 512},
		{100, 128},
		{0, 128},
	}
	for _, tt := range tests {
		f := NewFeed(tt.size)
		assert.Equal(t, tt.bins, f.Bins(), "size %d", tt.size)
		f.Attach(48000)
		assert.Len(t, f.Snapshot(), tt.bins)
	}
}
