package playback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeElement struct {
	playing  bool
	position float64
	volume   float64
	playErr  error

	plays, pauses int
	seeks         []float64
	volumes       []float64
}

func newFakeElement() *fakeElement { return &fakeElement{volume: 0.8} }

func (e *fakeElement) Play() error {
	e.plays++
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	return nil
}

func (e *fakeElement) Pause() {
	e.pauses++
	e.playing = false
}

func (e *fakeElement) Paused() bool      { return !e.playing }
func (e *fakeElement) Position() float64 { return e.position }
func (e *fakeElement) Volume() float64   { return e.volume }

func (e *fakeElement) Seek(s float64) {
	e.seeks = append(e.seeks, s)
	e.position = s
}

func (e *fakeElement) SetVolume(v float64) {
	e.volumes = append(e.volumes, v)
	e.volume = v
}

func newSync(t *testing.T) (*Synchronizer, *fakeElement, *fakeElement, *[]string) {
	t.Helper()
	var revoked []string
	s := NewSynchronizer(0, func(url string) { revoked = append(revoked, url) }, zap.NewNop().Sugar())
	teacher, student := newFakeElement(), newFakeElement()
	s.Register(Teacher, "teacher.wav", teacher)
	s.Register(Student, "student.wav", student)
	return s, teacher, student, &revoked
}

func TestEligible(t *testing.T) {
	tests := []struct {
		focus Focus
		role  Role
		want  bool
	}{
		{FocusAll, Teacher, true},
		{FocusAll, Student, true},
		{FocusTeacher, Teacher, true},
		{FocusTeacher, Student, false},
		{FocusStudent, Teacher, false},
		{FocusStudent, Student, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Eligible(tt.focus, tt.role), "%s/%s", tt.focus, tt.role)
	}
}

func TestInteractionIgnoredUntilEnabled(t *testing.T) {
	s, teacher, student, _ := newSync(t)

	s.PointerEnter()
	s.PointerMove(5, true)
	assert.Zero(t, teacher.plays)
	assert.Zero(t, student.plays)
	assert.Empty(t, teacher.seeks)
}

func TestEnableScrubbingPrimes(t *testing.T) {
	s, teacher, student, _ := newSync(t)
	teacher.position = 12

	assert.True(t, s.EnableScrubbing())

	for _, el := range []*fakeElement{teacher, student} {
		assert.Equal(t, 1, el.plays)
		assert.True(t, el.Paused())
		assert.Equal(t, []float64{0}, el.seeks)
		assert.Equal(t, []float64{0, 0.8}, el.volumes)
	}
	assert.True(t, s.Track(Teacher).Primed)

	// toggling off does not prime again
	assert.False(t, s.EnableScrubbing())
	assert.Equal(t, 1, teacher.plays)
}

func TestPrimeFailureIsSwallowed(t *testing.T) {
	s, teacher, _, _ := newSync(t)
	teacher.playErr = errors.New("autoplay blocked")

	assert.True(t, s.EnableScrubbing())
	assert.InDelta(t, 0.8, teacher.volume, 1e-12)
	assert.False(t, s.Track(Teacher).Primed)
	assert.True(t, s.Track(Student).Primed)
	assert.True(t, s.State().Enabled)
}

func TestPointerMoveDeadband(t *testing.T) {
	s, teacher, student, _ := newSync(t)
	s.EnableScrubbing()
	teacher.seeks, student.seeks = nil, nil

	teacher.position = 5.05
	student.position = 4.5
	s.PointerMove(5.0, true)

	assert.Empty(t, teacher.seeks)
	assert.Equal(t, []float64{5.0}, student.seeks)

	// a sample without a time does nothing
	s.PointerMove(9, false)
	assert.Equal(t, []float64{5.0}, student.seeks)
}

func TestTeacherFocusScrub(t *testing.T) {
	s, teacher, student, _ := newSync(t)
	s.EnableScrubbing()
	student.playing = true
	teacher.seeks, student.seeks = nil, nil

	assert.Equal(t, FocusTeacher, s.SetFocus(FocusTeacher))
	s.PointerEnter()
	assert.False(t, teacher.Paused())
	assert.True(t, student.Paused())

	s.PointerMove(3, true)
	assert.Equal(t, []float64{3}, teacher.seeks)
	assert.Empty(t, student.seeks)

	s.PointerLeave()
	assert.True(t, teacher.Paused())
	assert.True(t, student.Paused())
}

func TestPointerEnterLeavesPlayingTracks(t *testing.T) {
	s, teacher, _, _ := newSync(t)
	s.EnableScrubbing()
	teacher.playing = true
	plays := teacher.plays

	s.PointerEnter()
	assert.Equal(t, plays, teacher.plays)
}

func TestPointerLeaveWhileDisabled(t *testing.T) {
	s, teacher, student, _ := newSync(t)
	teacher.playing, student.playing = true, true

	s.PointerLeave()
	assert.True(t, teacher.Paused())
	assert.True(t, student.Paused())
}

func TestSetFocusLatch(t *testing.T) {
	s := NewSynchronizer(0, nil, zap.NewNop().Sugar())
	assert.Equal(t, FocusStudent, s.SetFocus(FocusStudent))
	assert.Equal(t, FocusAll, s.SetFocus(FocusStudent))
	assert.Equal(t, FocusTeacher, s.SetFocus(FocusTeacher))
	assert.Equal(t, FocusStudent, s.SetFocus(FocusStudent))
	assert.Equal(t, FocusAll, s.SetFocus(FocusAll))
	assert.Equal(t, "all", s.State().Focus)
}

func TestMissingTracksSkipped(t *testing.T) {
	s := NewSynchronizer(0, nil, zap.NewNop().Sugar())
	student := newFakeElement()
	s.Register(Student, "s.wav", student)

	s.EnableScrubbing()
	s.PointerEnter()
	s.PointerMove(2, true)
	s.PointerLeave()

	assert.Equal(t, []float64{0, 2}, student.seeks)
	require.Len(t, s.Tracks(), 1)
	assert.Equal(t, "student", s.Tracks()[0].Role)
}

func TestRegisterRevokesPrevious(t *testing.T) {
	s, teacher, _, revoked := newSync(t)
	teacher.playing = true

	next := newFakeElement()
	s.Register(Teacher, "teacher-2.wav", next)

	assert.True(t, teacher.Paused())
	assert.Equal(t, []string{"teacher.wav"}, *revoked)
	assert.Same(t, next, s.Track(Teacher).Element)

	s.Unregister(Student)
	s.Unregister(Student)
	assert.Equal(t, []string{"teacher.wav", "student.wav"}, *revoked)
	assert.Nil(t, s.Track(Student))
}

func TestParseRoleAndFocus(t *testing.T) {
	r, err := ParseRole("student")
	require.NoError(t, err)
	assert.Equal(t, Student, r)
	_, err = ParseRole("conductor")
	assert.Error(t, err)

	f, err := ParseFocus("teacher")
	require.NoError(t, err)
	assert.Equal(t, FocusTeacher, f)
	_, err = ParseFocus("both")
	assert.Error(t, err)
}
