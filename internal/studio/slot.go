package studio

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thakursameershetty/music-tutor-app/internal/capture"
	"github.com/thakursameershetty/music-tutor-app/internal/playback"
	"github.com/thakursameershetty/music-tutor-app/internal/tutor"
)

// Slot statuses.
const (
	StatusIdle       = "idle"
	StatusRecording  = "recording"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusError      = "error"
)

type slot struct {
	role      playback.Role
	session   *capture.Session
	status    string
	err       string
	result    *tutor.AnalysisResult
	pendingID uuid.UUID
	changed   time.Time
}

// live reports whether the slot holds the microphone or is asking for it.
func (sl *slot) live() bool {
	if sl.session == nil {
		return false
	}
	st := sl.session.State()
	return st == capture.StateRequestingPermission || st == capture.StateRecording
}

// busy reports whether the slot holds a session that has not finished. A
// session that is still Idle is busy: its Start is about to run.
func (sl *slot) busy() bool {
	if sl.session == nil {
		return false
	}
	st := sl.session.State()
	return st != capture.StateFinalized && st != capture.StateFailed
}

func (sl *slot) setStatus(status string, err error) {
	sl.status = status
	sl.err = ""
	if err != nil {
		sl.err = err.Error()
	}
	sl.changed = time.Now()
}

// SlotStatus reports one role.
type SlotStatus struct {
	Role      string                `json:"role"`
	Status    string                `json:"status"`
	Error     string                `json:"error,omitempty"`
	Elapsed   float64               `json:"elapsed,omitempty"` // seconds recorded so far
	PendingID string                `json:"pending_id,omitempty"`
	Result    *tutor.AnalysisResult `json:"result,omitempty"`
	Changed   time.Time             `json:"changed"`
}

// Status is the whole studio at a point in time.
type Status struct {
	Slots  []SlotStatus          `json:"slots"`
	Scrub  playback.ScrubState   `json:"scrub"`
	Tracks []playback.TrackState `json:"tracks"`
}

// Status snapshots both slots and the synchronizer.
func (s *Studio) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() error {
		for _, sl := range s.slots {
			ss := SlotStatus{
				Role:    sl.role.String(),
				Status:  sl.status,
				Error:   sl.err,
				Result:  sl.result,
				Changed: sl.changed,
			}
			if sl.session != nil {
				ss.Elapsed = sl.session.Elapsed().Seconds()
			}
			if sl.pendingID != uuid.Nil {
				ss.PendingID = sl.pendingID.String()
			}
			st.Slots = append(st.Slots, ss)
		}
		st.Scrub = s.sync.State()
		st.Tracks = s.sync.Tracks()
		return nil
	})
	return st, err
}

// ToggleScrub flips hover scrubbing and returns the new setting.
func (s *Studio) ToggleScrub(ctx context.Context) (bool, error) {
	var on bool
	err := s.do(ctx, func() error {
		on = s.sync.EnableScrubbing()
		return nil
	})
	return on, err
}

// PointerEnter forwards the pointer entering the charts.
func (s *Studio) PointerEnter(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.sync.PointerEnter()
		return nil
	})
}

// PointerMove forwards the sample under the pointer. Samples without a
// time are ignored.
func (s *Studio) PointerMove(ctx context.Context, sample tutor.Sample) error {
	sec, ok := sample.Seconds()
	return s.do(ctx, func() error {
		s.sync.PointerMove(sec, ok)
		return nil
	})
}

// PointerLeave forwards the pointer leaving the charts.
func (s *Studio) PointerLeave(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.sync.PointerLeave()
		return nil
	})
}

// SetFocus latches the focus and returns the resulting one.
func (s *Studio) SetFocus(ctx context.Context, f playback.Focus) (playback.Focus, error) {
	var got playback.Focus
	err := s.do(ctx, func() error {
		got = s.sync.SetFocus(f)
		return nil
	})
	return got, err
}
