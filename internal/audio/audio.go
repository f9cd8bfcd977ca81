package audio

import "time"

// Output format shared by the mixer and the listener streams.
const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Source feeds one track into the mixer. Next returns the next interleaved
// output frame and its gain, or nil when the source is silent this tick.
type Source interface {
	Next() (frame []int16, gain float64)
}
