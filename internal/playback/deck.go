package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thakursameershetty/music-tutor-app/internal/audio"
)

// ErrNotReady is returned by Play before the track has been decoded.
var ErrNotReady = errors.New("playback: track not decoded yet")

// Decoder turns a track source (path or URL) into interleaved output PCM.
type Decoder func(ctx context.Context, src string) ([]int16, error)

// Deck is one decoded track. It is an Element for the synchronizer and an
// audio.Source for the mixer, so its state is guarded by a mutex.
type Deck struct {
	src    string
	decode Decoder
	ctx    context.Context

	loadOnce sync.Once

	mu      sync.Mutex
	pcm     []int16
	loaded  bool
	loadErr error
	pos     int // sample index, always frame aligned
	playing bool
	volume  float64
	fade    bool
}

// NewDeck prepares a deck for src. Nothing is decoded until Load.
// ctx bounds the decode; a nil decode selects audio.DecodeFile.
func NewDeck(ctx context.Context, src string, decode Decoder) *Deck {
	if decode == nil {
		decode = audio.DecodeFile
	}
	return &Deck{src: src, decode: decode, ctx: ctx, volume: 1}
}

// Source is the path or URL the deck plays.
func (d *Deck) Source() string { return d.src }

// Load decodes the track. Only the first call decodes; later calls return
// its result. The deck lock is not held while decoding, so Next and the
// element methods stay responsive.
func (d *Deck) Load() error {
	d.loadOnce.Do(func() {
		pcm, err := d.decode(d.ctx, d.src)

		d.mu.Lock()
		defer d.mu.Unlock()
		if err != nil {
			d.loadErr = fmt.Errorf("load %s: %w", d.src, err)
			return
		}
		d.pcm = pcm[:len(pcm)-len(pcm)%audio.Channels]
		d.pos = min(d.pos, len(d.pcm))
		d.loaded = true
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadErr
}

// Ready reports whether the track has been decoded.
func (d *Deck) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Play starts playback. It fails with ErrNotReady until Load has finished,
// or with the decode error if Load failed. Playing a finished track
// restarts it from the top.
func (d *Deck) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		if d.loadErr != nil {
			return d.loadErr
		}
		return ErrNotReady
	}
	if d.pos >= len(d.pcm) {
		d.pos = 0
	}
	if !d.playing {
		d.fade = true
	}
	d.playing = true
	return nil
}

func (d *Deck) Pause() {
	d.mu.Lock()
	d.playing = false
	d.mu.Unlock()
}

func (d *Deck) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.playing
}

// Position is the playhead in seconds.
func (d *Deck) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return samplesToSeconds(d.pos)
}

// Duration is the decoded length in seconds, 0 before Load.
func (d *Deck) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return samplesToSeconds(len(d.pcm))
}

// Seek moves the playhead, clamped to the track.
func (d *Deck) Seek(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos := int(seconds*audio.SampleRate) * audio.Channels
	if pos < 0 {
		pos = 0
	}
	if d.loaded && pos > len(d.pcm) {
		pos = len(d.pcm)
	}
	d.pos = pos
	d.fade = true
}

func (d *Deck) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// SetVolume sets the gain, clamped to [0,1].
func (d *Deck) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = max(0, min(1, v))
}

// Next implements audio.Source. The deck pauses itself at the end of the track.
func (d *Deck) Next() ([]int16, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing || d.pos >= len(d.pcm) {
		d.playing = false
		return nil, 0
	}

	frame := make([]int16, audio.FrameSamples)
	n := copy(frame, d.pcm[d.pos:])
	d.pos += n
	if d.pos >= len(d.pcm) {
		d.playing = false
	}
	if d.fade {
		audio.FadeIn(frame)
		d.fade = false
	}
	return frame, d.volume
}

func samplesToSeconds(n int) float64 {
	return float64(n/audio.Channels) / audio.SampleRate
}
