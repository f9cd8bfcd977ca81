// Package capture records microphone audio into a single encoded blob.
//
// A Session owns the microphone stream and the encoder for exactly one
// recording. The stream is tapped for visualization independently of the
// encoder, and both the device and the tap are released as soon as Stop is
// called, whatever happens afterwards.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPermissionDenied is returned by Start when the microphone cannot be opened.
var ErrPermissionDenied = errors.New("microphone permission denied")

// ErrInvalidState is returned when an operation is not valid in the current state.
var ErrInvalidState = errors.New("invalid capture state")

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateRequestingPermission
	StateRecording
	StateStopping
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingPermission:
		return "requesting_permission"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Format describes the PCM delivered by a microphone stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Microphone opens capture streams. Open blocks while the platform asks for
// permission.
type Microphone interface {
	Open(ctx context.Context, f Format) (Stream, error)
}

// Stream is a live microphone stream. Frames is closed once Close returns.
type Stream interface {
	Frames() <-chan []int16
	Close() error
}

// Tap receives a copy of the live stream for analysis.
type Tap interface {
	Attach(sampleRate int)
	Write(samples []int16)
	Detach()
}

// Encoder turns PCM into encoded fragments. Encode and Flush may return
// empty fragments.
type Encoder interface {
	MimeType() string
	Encode(pcm []int16) ([]byte, error)
	Flush() ([]byte, error)
}

// finalizer is implemented by encoders that patch the concatenated output,
// e.g. to fill in container sizes.
type finalizer interface {
	Finalize(data []byte) error
}

// EncoderFactory builds an encoder for a stream format.
type EncoderFactory func(f Format) (Encoder, error)

// Session is one capture lifecycle: Idle → Recording → Finalized.
type Session struct {
	id         string
	mic        Microphone
	newEncoder EncoderFactory
	tap        Tap
	format     Format
	lg         *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	stream    Stream
	enc       Encoder
	encErr    error
	fragments [][]byte
	pumpDone  chan struct{}
	startedAt time.Time
	blob      *Blob
}

// NewSession creates an idle session. tap may be nil.
func NewSession(mic Microphone, newEncoder EncoderFactory, tap Tap, f Format, lg *zap.SugaredLogger) *Session {
	if f.Channels == 0 {
		f.Channels = 1
	}
	return &Session{
		id:         uuid.NewString(),
		mic:        mic,
		newEncoder: newEncoder,
		tap:        tap,
		format:     f,
		lg:         lg,
	}
}

// ID identifies the session in logs and in the pending-upload store.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fragments returns how many encoded fragments have been buffered.
func (s *Session) Fragments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}

// Elapsed returns how long the session has been recording.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return 0
	}
	return time.Since(s.startedAt)
}

// Start opens the microphone and begins encoding. A refused or missing device
// yields ErrPermissionDenied and leaves the session Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("start while %s: %w", st, ErrInvalidState)
	}
	s.state = StateRequestingPermission
	s.mu.Unlock()

	stream, err := s.mic.Open(ctx, s.format)
	if err != nil {
		s.setState(StateIdle)
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	enc, err := s.newEncoder(s.format)
	if err != nil {
		stream.Close()
		s.setState(StateIdle)
		return fmt.Errorf("create encoder: %w", err)
	}

	if s.tap != nil {
		s.tap.Attach(s.format.SampleRate)
	}

	s.mu.Lock()
	s.stream = stream
	s.enc = enc
	s.pumpDone = make(chan struct{})
	s.startedAt = time.Now()
	s.state = StateRecording
	s.mu.Unlock()

	go s.pump(stream, enc)

	s.lg.Infow("capture started", "session", s.id, "mime", enc.MimeType(), "sample_rate", s.format.SampleRate)
	return nil
}

// pump feeds live frames to the tap and the encoder until the stream closes.
func (s *Session) pump(stream Stream, enc Encoder) {
	defer close(s.pumpDone)
	for frame := range stream.Frames() {
		if s.tap != nil {
			s.tap.Write(frame)
		}

		s.mu.Lock()
		if s.encErr != nil {
			s.mu.Unlock()
			continue
		}
		frag, err := enc.Encode(frame)
		if err != nil {
			s.encErr = err
		} else if len(frag) > 0 {
			s.fragments = append(s.fragments, frag)
		}
		s.mu.Unlock()
	}
}

// Stop finalizes the recording into a Blob. The microphone and the tap are
// released before anything else; a failure after that leaves the session
// Failed.
func (s *Session) Stop() (*Blob, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("stop while %s: %w", st, ErrInvalidState)
	}
	s.state = StateStopping
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	done := false
	defer func() {
		if !done {
			s.setState(StateFailed)
		}
	}()

	if err := stream.Close(); err != nil {
		s.lg.Warnw("close microphone", "session", s.id, "error", err)
	}
	if s.tap != nil {
		s.tap.Detach()
	}
	<-s.pumpDone

	blob, err := s.finalize()
	if err != nil {
		s.lg.Errorw("finalize capture", "session", s.id, "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.blob = blob
	s.state = StateFinalized
	s.fragments = nil
	s.mu.Unlock()
	done = true

	s.lg.Infow("capture finalized", "session", s.id, "bytes", blob.Size(), "mime", blob.MimeType())
	return blob, nil
}

func (s *Session) finalize() (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encErr != nil {
		return nil, fmt.Errorf("encode: %w", s.encErr)
	}
	tail, err := s.enc.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush encoder: %w", err)
	}
	if len(tail) > 0 {
		s.fragments = append(s.fragments, tail)
	}

	data := bytes.Join(s.fragments, nil)
	if f, ok := s.enc.(finalizer); ok {
		if err := f.Finalize(data); err != nil {
			return nil, fmt.Errorf("finalize encoding: %w", err)
		}
	}
	return newBlob(data, s.enc.MimeType(), ""), nil
}

// Blob returns the finalized recording, or nil before Stop succeeds.
func (s *Session) Blob() *Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
