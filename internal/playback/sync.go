package playback

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// ErrPrimeFailed is logged when a track refuses to start while being primed.
// It is never returned to callers.
var ErrPrimeFailed = errors.New("playback: prime failed")

// DefaultDeadband is the minimum drift, in seconds, that triggers a seek.
const DefaultDeadband = 0.1

// Element is a controllable playback target.
type Element interface {
	Play() error
	Pause()
	Paused() bool
	Position() float64
	Seek(seconds float64)
	Volume() float64
	SetVolume(v float64)
}

// TrackHandle is the synchronizer's view of one registered track.
type TrackHandle struct {
	Role    Role
	URL     string
	Element Element
	Primed  bool
}

// TrackState is a point-in-time copy of a track for status reporting.
type TrackState struct {
	Role     string  `json:"role"`
	URL      string  `json:"url"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
	Primed   bool    `json:"primed"`
	Ready    bool    `json:"ready"`
}

// readier is implemented by elements that load asynchronously.
type readier interface {
	Ready() bool
}

// ScrubState is the shared scrubbing mode.
type ScrubState struct {
	Enabled bool   `json:"enabled"`
	Focus   string `json:"focus"`
}

// Synchronizer owns at most one track per role. It is not safe for
// concurrent use; callers drive it from a single goroutine.
type Synchronizer struct {
	tracks   [2]*TrackHandle
	enabled  bool
	focus    Focus
	deadband float64
	revoke   func(url string)
	lg       *zap.SugaredLogger
}

// NewSynchronizer creates a synchronizer. revoke, if non-nil, is called with
// the URL of every track that gets replaced or unregistered. A non-positive
// deadband selects DefaultDeadband.
func NewSynchronizer(deadband float64, revoke func(url string), lg *zap.SugaredLogger) *Synchronizer {
	if deadband <= 0 {
		deadband = DefaultDeadband
	}
	return &Synchronizer{deadband: deadband, revoke: revoke, lg: lg}
}

// Register installs el as the track for role, replacing any previous one.
func (s *Synchronizer) Register(r Role, url string, el Element) {
	s.Unregister(r)
	s.tracks[r] = &TrackHandle{Role: r, URL: url, Element: el}
	s.lg.Infow("track registered", "role", r, "url", url)
}

// Unregister pauses and drops the track for role, if any.
func (s *Synchronizer) Unregister(r Role) {
	old := s.tracks[r]
	if old == nil {
		return
	}
	s.tracks[r] = nil
	old.Element.Pause()
	if s.revoke != nil {
		s.revoke(old.URL)
	}
	s.lg.Infow("track released", "role", r, "url", old.URL)
}

// Track returns the handle for role, or nil.
func (s *Synchronizer) Track(r Role) *TrackHandle { return s.tracks[r] }

// State reports the scrub mode.
func (s *Synchronizer) State() ScrubState {
	return ScrubState{Enabled: s.enabled, Focus: s.focus.String()}
}

// Focus returns the current focus.
func (s *Synchronizer) Focus() Focus { return s.focus }

// Tracks snapshots every registered track in role order.
func (s *Synchronizer) Tracks() []TrackState {
	var out []TrackState
	for _, t := range s.tracks {
		if t == nil {
			continue
		}
		ready := true
		if r, ok := t.Element.(readier); ok {
			ready = r.Ready()
		}
		out = append(out, TrackState{
			Role:     t.Role.String(),
			URL:      t.URL,
			Position: t.Element.Position(),
			Playing:  !t.Element.Paused(),
			Primed:   t.Primed,
			Ready:    ready,
		})
	}
	return out
}

// EnableScrubbing flips scrubbing on or off and returns the new setting.
// Turning it on primes every registered track.
func (s *Synchronizer) EnableScrubbing() bool {
	s.enabled = !s.enabled
	if s.enabled {
		for _, t := range s.tracks {
			if t != nil {
				s.prime(t)
			}
		}
	}
	s.lg.Infow("scrubbing toggled", "enabled", s.enabled)
	return s.enabled
}

// TrackReady primes the track registered at url for r once it has finished
// loading, if scrubbing is on and the track was not primed yet. It is a no-op
// when the track has since been replaced.
func (s *Synchronizer) TrackReady(r Role, url string) {
	t := s.tracks[r]
	if t == nil || t.URL != url || !s.enabled || t.Primed {
		return
	}
	s.prime(t)
}

// prime runs a silent play/pause cycle so the track is ready to respond
// instantly and rewinds it.
func (s *Synchronizer) prime(t *TrackHandle) {
	el := t.Element
	vol := el.Volume()
	el.SetVolume(0)
	defer el.SetVolume(vol)

	if err := el.Play(); err != nil {
		s.lg.Warnw("audio prime failed", "role", t.Role, "error", fmt.Errorf("%w: %w", ErrPrimeFailed, err))
		return
	}
	el.Pause()
	el.Seek(0)
	t.Primed = true
}

// PointerEnter starts every eligible paused track and stops every ineligible
// playing one.
func (s *Synchronizer) PointerEnter() {
	if !s.enabled {
		return
	}
	for _, t := range s.tracks {
		if t == nil {
			continue
		}
		el := t.Element
		switch {
		case Eligible(s.focus, t.Role) && el.Paused():
			if err := el.Play(); err != nil {
				s.lg.Debugw("play on enter", "role", t.Role, "error", err)
			}
		case !Eligible(s.focus, t.Role) && !el.Paused():
			el.Pause()
		}
	}
}

// PointerMove seeks eligible tracks to seconds when they have drifted past
// the deadband. ok is false when the pointer is not over a timed sample.
func (s *Synchronizer) PointerMove(seconds float64, ok bool) {
	if !s.enabled || !ok || math.IsNaN(seconds) {
		return
	}
	for _, t := range s.tracks {
		if t == nil || !Eligible(s.focus, t.Role) {
			continue
		}
		if math.Abs(t.Element.Position()-seconds) > s.deadband {
			t.Element.Seek(seconds)
		}
	}
}

// PointerLeave pauses every track regardless of mode.
func (s *Synchronizer) PointerLeave() {
	for _, t := range s.tracks {
		if t != nil {
			t.Element.Pause()
		}
	}
}

// SetFocus latches focus; choosing the active focus again clears it.
func (s *Synchronizer) SetFocus(f Focus) Focus {
	if f == s.focus {
		f = FocusAll
	}
	s.focus = f
	return s.focus
}
