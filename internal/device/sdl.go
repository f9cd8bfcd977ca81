// Package device implements capture.Microphone on top of SDL2 audio capture.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/audio"
	"github.com/thakursameershetty/music-tutor-app/internal/capture"
)

// pollInterval is how often queued capture audio is dequeued from SDL.
const pollInterval = 10 * time.Millisecond

var (
	initOnce sync.Once
	initErr  error
)

func initAudio() error {
	initOnce.Do(func() {
		initErr = sdl.InitSubSystem(sdl.INIT_AUDIO)
	})
	return initErr
}

// Microphone opens SDL capture devices. An empty Name selects the system default.
type Microphone struct {
	Name string
	lg   *zap.SugaredLogger
}

// NewMicrophone returns a microphone bound to the named device.
func NewMicrophone(name string, lg *zap.SugaredLogger) *Microphone {
	return &Microphone{Name: name, lg: lg}
}

// Devices lists the capture devices SDL can see.
func Devices() ([]string, error) {
	if err := initAudio(); err != nil {
		return nil, fmt.Errorf("init sdl audio: %w", err)
	}
	n := sdl.GetNumAudioDevices(true)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, sdl.GetAudioDeviceName(i, true))
	}
	return names, nil
}

// Open implements capture.Microphone. A missing device or a refused open
// is reported as capture.ErrPermissionDenied.
func (m *Microphone) Open(ctx context.Context, f capture.Format) (capture.Stream, error) {
	if err := initAudio(); err != nil {
		return nil, fmt.Errorf("%w: init sdl audio: %v", capture.ErrPermissionDenied, err)
	}
	if sdl.GetNumAudioDevices(true) <= 0 {
		return nil, fmt.Errorf("%w: no capture device", capture.ErrPermissionDenied)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	desired := sdl.AudioSpec{
		Freq:     int32(f.SampleRate),
		Format:   sdl.AUDIO_S16SYS,
		Channels: uint8(f.Channels),
		Samples:  1024,
	}
	var obtained sdl.AudioSpec
	dev, err := sdl.OpenAudioDevice(m.Name, true, &desired, &obtained, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", capture.ErrPermissionDenied, m.Name, err)
	}
	sdl.PauseAudioDevice(dev, false)

	s := &stream{
		dev:    dev,
		frames: make(chan []int16, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lg:     m.lg,
	}
	go s.poll()

	m.lg.Infow("microphone opened", "device", m.Name, "freq", obtained.Freq, "channels", obtained.Channels)
	return s, nil
}

type stream struct {
	dev    sdl.AudioDeviceID
	frames chan []int16
	stop   chan struct{}
	done   chan struct{}
	lg     *zap.SugaredLogger

	closeOnce sync.Once
}

func (s *stream) Frames() <-chan []int16 { return s.frames }

// poll dequeues captured audio until stopped.
func (s *stream) poll() {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	buf := make([]byte, 8192)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		for {
			n, err := sdl.DequeueAudio(s.dev, buf)
			if err != nil {
				s.lg.Warnw("dequeue capture audio", "error", err)
				break
			}
			if n == 0 {
				break
			}
			select {
			case s.frames <- audio.BytesToSamples(buf[:n]):
			default:
				// consumer stalled; drop rather than block the device
			}
		}
	}
}

// Close stops polling, releases the device and closes Frames.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		sdl.PauseAudioDevice(s.dev, true)
		sdl.CloseAudioDevice(s.dev)
		close(s.frames)
		s.lg.Infow("microphone released")
	})
	return nil
}
