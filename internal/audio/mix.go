package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeIn ramps a frame up from silence along a smoothstep curve, in place.
// Used after a play or seek so the first frame does not click.
func FadeIn(frame []int16) {
	frames := len(frame) / Channels
	if frames == 0 {
		return
	}
	for i := range frame {
		g := Smoothstep(float64(i/Channels) / float64(frames))
		frame[i] = int16(float64(frame[i]) * g)
	}
}

// Accumulate adds src scaled by gain into acc. acc must be at least len(src).
func Accumulate(acc []float64, src []int16, gain float64) {
	for i, s := range src {
		acc[i] += float64(s) * gain
	}
}

// Clip converts an accumulator to int16 samples clipped to the int16 range.
func Clip(acc []float64) []int16 {
	out := make([]int16, len(acc))
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
