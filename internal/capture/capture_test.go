package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStream struct {
	ch     chan []int16
	mu     sync.Mutex
	closed int
}

func (s *fakeStream) Frames() <-chan []int16 { return s.ch }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == 0 {
		close(s.ch)
	}
	s.closed++
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMic struct {
	err    error
	stream *fakeStream
	opens  int
}

func (m *fakeMic) Open(ctx context.Context, f Format) (Stream, error) {
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	m.stream = &fakeStream{ch: make(chan []int16, 16)}
	return m.stream, nil
}

type fakeTap struct {
	mu       sync.Mutex
	attached bool
	written  int
	detaches int
}

func (t *fakeTap) Attach(int) { t.mu.Lock(); t.attached = true; t.mu.Unlock() }
func (t *fakeTap) Write(s []int16) {
	t.mu.Lock()
	t.written += len(s)
	t.mu.Unlock()
}
func (t *fakeTap) Detach() { t.mu.Lock(); t.attached = false; t.detaches++; t.mu.Unlock() }

type brokenEncoder struct {
	flushErr    error
	finalizeBad bool
}

func (e *brokenEncoder) MimeType() string                   { return "audio/test" }
func (e *brokenEncoder) Encode(pcm []int16) ([]byte, error) { return []byte{1}, nil }
func (e *brokenEncoder) Flush() ([]byte, error)             { return nil, e.flushErr }
func (e *brokenEncoder) Finalize(data []byte) error {
	if e.finalizeBad {
		panic("concatenation blew up")
	}
	return nil
}

var monoFormat = Format{SampleRate: 48000, Channels: 1}

func newTestSession(t *testing.T, mic Microphone, factory EncoderFactory, tap Tap) *Session {
	t.Helper()
	return NewSession(mic, factory, tap, monoFormat, zap.NewNop().Sugar())
}

func recordOneFrame(t *testing.T, s *Session, mic *fakeMic) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	mic.stream.ch <- make([]int16, 960)
	require.Eventually(t, func() bool { return s.Fragments() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestStartPermissionDenied(t *testing.T) {
	mic := &fakeMic{err: errors.New("user declined")}
	s := newTestSession(t, mic, NewWAVEncoder, nil)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, s.State())

	// still idle, so a retry is allowed on the same instance
	mic.err = nil
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRecording, s.State())
}

func TestStartWhileRecordingRejected(t *testing.T) {
	mic := &fakeMic{}
	s := newTestSession(t, mic, NewWAVEncoder, nil)
	require.NoError(t, s.Start(context.Background()))

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, mic.opens)
	assert.Equal(t, StateRecording, s.State())
}

func TestStopRequiresRecording(t *testing.T) {
	s := newTestSession(t, &fakeMic{}, NewWAVEncoder, nil)
	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStopProducesWAVBlob(t *testing.T) {
	mic := &fakeMic{}
	tap := &fakeTap{}
	s := newTestSession(t, mic, NewWAVEncoder, tap)
	recordOneFrame(t, s, mic)
	assert.True(t, tap.attached)

	blob, err := s.Stop()
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, s.State())
	assert.Equal(t, "audio/wav", blob.MimeType())
	assert.Empty(t, blob.Name())
	assert.Equal(t, 1, mic.stream.closeCount())
	assert.False(t, tap.attached)
	assert.Equal(t, 960, tap.written)

	data := blob.Bytes()
	require.Len(t, data, 44+960*2)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(36+960*2), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(960*2), binary.LittleEndian.Uint32(data[40:44]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Same(t, blob, s.Blob())
}

func TestOneBlobPerSession(t *testing.T) {
	mic := &fakeMic{}
	s := newTestSession(t, mic, NewWAVEncoder, nil)
	recordOneFrame(t, s, mic)
	_, err := s.Stop()
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(context.Background()), ErrInvalidState)
	_, err = s.Stop()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStopReleasesDeviceOnFlushFailure(t *testing.T) {
	mic := &fakeMic{}
	tap := &fakeTap{}
	factory := func(Format) (Encoder, error) {
		return &brokenEncoder{flushErr: errors.New("flush failed")}, nil
	}
	s := newTestSession(t, mic, factory, tap)
	recordOneFrame(t, s, mic)

	_, err := s.Stop()
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 1, mic.stream.closeCount())
	assert.Equal(t, 1, tap.detaches)
	assert.Nil(t, s.Blob())
}

func TestStopReleasesDeviceWhenConcatenationPanics(t *testing.T) {
	mic := &fakeMic{}
	tap := &fakeTap{}
	factory := func(Format) (Encoder, error) {
		return &brokenEncoder{finalizeBad: true}, nil
	}
	s := newTestSession(t, mic, factory, tap)
	recordOneFrame(t, s, mic)

	assert.Panics(t, func() { _, _ = s.Stop() })
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 1, mic.stream.closeCount())
	assert.Equal(t, 1, tap.detaches)
}

func TestEncoderFactoryFailureClosesStream(t *testing.T) {
	mic := &fakeMic{}
	factory := func(Format) (Encoder, error) { return nil, errors.New("no codec") }
	s := newTestSession(t, mic, factory, nil)

	require.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 1, mic.stream.closeCount())
}

func TestWAVEmptyRecording(t *testing.T) {
	mic := &fakeMic{}
	s := newTestSession(t, mic, NewWAVEncoder, nil)
	require.NoError(t, s.Start(context.Background()))

	blob, err := s.Stop()
	require.NoError(t, err)
	require.Equal(t, 44, blob.Size())
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(blob.Bytes()[40:44]))
}

func TestWAVFinalizeRejectsGarbage(t *testing.T) {
	enc, err := NewWAVEncoder(monoFormat)
	require.NoError(t, err)
	assert.Error(t, enc.(*WAVEncoder).Finalize([]byte("nope")))
}

func TestFileBlobCopiesData(t *testing.T) {
	data := []byte{1, 2, 3}
	b := FileBlob("take.mp3", "audio/mpeg", data)
	data[0] = 9
	assert.Equal(t, byte(1), b.Bytes()[0])
	assert.Equal(t, "take.mp3", b.Name())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "state(42)", State(42).String())
}
