// Package studio ties capture, analysis and playback together for the
// teacher and student slots.
package studio

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/audio"
	"github.com/thakursameershetty/music-tutor-app/internal/capture"
	"github.com/thakursameershetty/music-tutor-app/internal/loop"
	"github.com/thakursameershetty/music-tutor-app/internal/orb"
	"github.com/thakursameershetty/music-tutor-app/internal/playback"
	"github.com/thakursameershetty/music-tutor-app/internal/spectrum"
	"github.com/thakursameershetty/music-tutor-app/internal/store"
	"github.com/thakursameershetty/music-tutor-app/internal/tutor"
)

// ErrNoHistoryEntry is returned when LoadHistory cannot find the id.
var ErrNoHistoryEntry = errors.New("studio: history entry not found")

// Analyzer is the analysis service.
type Analyzer interface {
	Submit(ctx context.Context, b *capture.Blob, r playback.Role) (*tutor.AnalysisResult, error)
	History(ctx context.Context) ([]tutor.HistoryEntry, error)
	Report(ctx context.Context) ([]byte, error)
	AudioURL(filename string) string
}

// PendingStore keeps recordings whose upload failed.
type PendingStore interface {
	SavePending(r playback.Role, b *capture.Blob, cause error) (store.Pending, error)
	LoadPending(id uuid.UUID) (store.Pending, *capture.Blob, error)
	ListPending() ([]store.Pending, error)
	DeletePending(id uuid.UUID) error
}

// Mixer plays registered decks.
type Mixer interface {
	Add(s audio.Source)
	Remove(s audio.Source)
}

// FramePublisher receives one rendered particle frame per loop tick while
// a capture is live.
type FramePublisher interface {
	Publish(f orb.Frame)
}

// Config holds the studio's tunables.
type Config struct {
	SpoolDir string // recorded takes are written here for playback
	Deadband float64
	Format   capture.Format
}

// Deps are the collaborators wired in by the daemon.
type Deps struct {
	Loop     *loop.Loop
	Mic      capture.Microphone
	Encoder  capture.EncoderFactory
	Feed     *spectrum.Feed
	Renderer *orb.Renderer
	Frames   FramePublisher
	Mixer    Mixer
	Analyzer Analyzer
	Pending  PendingStore
	Decoder  playback.Decoder // nil selects ffmpeg
}

// Studio owns the two capture slots and the playback synchronizer. Slot and
// synchronizer state is only touched on the event loop.
type Studio struct {
	cfg  Config
	deps Deps
	lg   *zap.SugaredLogger
	ctx  context.Context

	sync  *playback.Synchronizer
	slots [2]*slot
	decks map[string]*playback.Deck // by track URL

	// frame callback for the live capture, loop only
	stopFrames func()
}

// New creates a studio. ctx bounds background decoding.
func New(ctx context.Context, cfg Config, deps Deps, lg *zap.SugaredLogger) (*Studio, error) {
	if cfg.SpoolDir != "" {
		if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
			return nil, fmt.Errorf("create spool dir: %w", err)
		}
	}
	s := &Studio{
		cfg:   cfg,
		deps:  deps,
		lg:    lg,
		ctx:   ctx,
		decks: make(map[string]*playback.Deck),
	}
	for _, r := range playback.Roles {
		s.slots[r] = &slot{role: r, status: StatusIdle}
	}
	s.sync = playback.NewSynchronizer(cfg.Deadband, s.revoke, lg.Named("playback"))
	return s, nil
}

// do runs fn on the event loop.
func (s *Studio) do(ctx context.Context, fn func() error) error {
	return s.deps.Loop.Do(ctx, fn)
}

// StartCapture begins recording for r. Only one role records at a time.
func (s *Studio) StartCapture(ctx context.Context, r playback.Role) error {
	var sess *capture.Session
	err := s.do(ctx, func() error {
		for _, other := range s.slots {
			if other.busy() {
				return fmt.Errorf("%s is already recording: %w", other.role, capture.ErrInvalidState)
			}
		}
		sl := s.slots[r]
		if sl.status == StatusProcessing {
			return fmt.Errorf("%s upload in progress: %w", r, capture.ErrInvalidState)
		}
		sess = capture.NewSession(s.deps.Mic, s.deps.Encoder, s.deps.Feed, s.cfg.Format, s.lg.With("role", r.String()))
		sl.session = sess
		sl.setStatus(StatusRecording, nil)
		return nil
	})
	if err != nil {
		return err
	}

	if err := sess.Start(ctx); err != nil {
		_ = s.do(context.WithoutCancel(ctx), func() error {
			sl := s.slots[r]
			if sl.session == sess {
				sl.session = nil
				sl.setStatus(StatusError, err)
			}
			return nil
		})
		return err
	}

	return s.do(ctx, func() error {
		s.startFrames()
		s.lg.Infow("capture started", "role", r, "session", sess.ID())
		return nil
	})
}

// startFrames renders the live field on every loop tick. Loop only.
func (s *Studio) startFrames() {
	if s.stopFrames != nil || s.deps.Renderer == nil || s.deps.Frames == nil {
		return
	}
	s.stopFrames = s.deps.Loop.OnFrame(func(tick uint64) {
		snap := s.deps.Feed.Snapshot()
		s.deps.Frames.Publish(orb.Encode(tick, s.deps.Renderer.Render(tick, snap)))
	})
}

func (s *Studio) stopFrameClock() {
	if s.stopFrames != nil {
		s.stopFrames()
		s.stopFrames = nil
	}
}

// StopCapture finalizes the recording for r, makes it the role's track and
// submits it for analysis.
func (s *Studio) StopCapture(ctx context.Context, r playback.Role) (*tutor.AnalysisResult, error) {
	var sess *capture.Session
	err := s.do(ctx, func() error {
		sl := s.slots[r]
		if sl.session == nil || sl.session.State() != capture.StateRecording {
			return fmt.Errorf("%s is not recording: %w", r, capture.ErrInvalidState)
		}
		sess = sl.session
		sl.session = nil
		sl.setStatus(StatusProcessing, nil)
		s.stopFrameClock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	blob, err := sess.Stop()
	if err != nil {
		s.finish(ctx, r, nil, err)
		return nil, fmt.Errorf("finalize %s capture: %w", r, err)
	}
	s.lg.Infow("capture finalized", "role", r, "session", sess.ID(), "bytes", blob.Size())

	path, err := s.spool(sess.ID(), blob)
	if err != nil {
		s.lg.Warnw("recorded take not playable", "role", r, "error", err)
	} else if err := s.registerTrack(ctx, r, path); err != nil {
		s.finish(ctx, r, nil, err)
		return nil, err
	}

	return s.submit(ctx, r, blob)
}

// UploadFile submits an existing audio file for r and makes it the role's track.
func (s *Studio) UploadFile(ctx context.Context, r playback.Role, name string, data []byte) (*tutor.AnalysisResult, error) {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mt == "" {
		mt = "application/octet-stream"
	}
	blob := capture.FileBlob(filepath.Base(name), mt, data)

	err := s.do(ctx, func() error {
		sl := s.slots[r]
		if sl.busy() || sl.status == StatusProcessing {
			return fmt.Errorf("%s slot busy: %w", r, capture.ErrInvalidState)
		}
		sl.setStatus(StatusProcessing, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	path, err := s.spool(uuid.NewString(), blob)
	if err != nil {
		s.lg.Warnw("uploaded file not playable", "role", r, "error", err)
	} else if err := s.registerTrack(ctx, r, path); err != nil {
		s.finish(ctx, r, nil, err)
		return nil, err
	}
	return s.submit(ctx, r, blob)
}

// submit uploads blob and records the outcome. A failed upload is kept in
// the pending store.
func (s *Studio) submit(ctx context.Context, r playback.Role, blob *capture.Blob) (*tutor.AnalysisResult, error) {
	res, err := s.deps.Analyzer.Submit(ctx, blob, r)
	if err != nil {
		p, perr := s.deps.Pending.SavePending(r, blob, err)
		if perr != nil {
			s.lg.Errorw("keep failed upload", "role", r, "error", perr)
		}
		s.settle(ctx, r, p.ID, nil, err)
		return nil, err
	}
	s.finish(ctx, r, res, nil)
	return res, nil
}

// RetryPending resubmits a kept recording and drops it on success.
func (s *Studio) RetryPending(ctx context.Context, id uuid.UUID) (*tutor.AnalysisResult, error) {
	p, blob, err := s.deps.Pending.LoadPending(id)
	if err != nil {
		return nil, err
	}
	r, err := playback.ParseRole(p.Role)
	if err != nil {
		return nil, fmt.Errorf("pending %s: %w", id, err)
	}

	res, err := s.deps.Analyzer.Submit(ctx, blob, r)
	if err != nil {
		s.lg.Warnw("retry failed", "id", id, "role", r, "error", err)
		return nil, err
	}
	if err := s.deps.Pending.DeletePending(id); err != nil {
		s.lg.Errorw("drop retried recording", "id", id, "error", err)
	}
	s.finish(ctx, r, res, nil)
	s.lg.Infow("pending recording uploaded", "id", id, "role", r)
	return res, nil
}

// Pending lists kept recordings.
func (s *Studio) Pending() ([]store.Pending, error) {
	return s.deps.Pending.ListPending()
}

// History lists past attempts from the service.
func (s *Studio) History(ctx context.Context) ([]tutor.HistoryEntry, error) {
	return s.deps.Analyzer.History(ctx)
}

// LoadHistory makes a past attempt the current student result and track.
func (s *Studio) LoadHistory(ctx context.Context, id int64) (*tutor.AnalysisResult, error) {
	entries, err := s.deps.Analyzer.History(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		res, err := e.Analysis()
		if err != nil {
			return nil, err
		}
		if err := s.registerTrack(ctx, playback.Student, s.deps.Analyzer.AudioURL(e.AudioFilename)); err != nil {
			return nil, err
		}
		s.finish(ctx, playback.Student, res, nil)
		return res, nil
	}
	return nil, fmt.Errorf("history %d: %w", id, ErrNoHistoryEntry)
}

// Report downloads the PDF report.
func (s *Studio) Report(ctx context.Context) ([]byte, error) {
	return s.deps.Analyzer.Report(ctx)
}

// registerTrack installs src as r's track, replacing the previous one. The
// track decodes in the background; it reports ready to the synchronizer on
// the loop when done.
func (s *Studio) registerTrack(ctx context.Context, r playback.Role, src string) error {
	d := playback.NewDeck(s.ctx, src, s.deps.Decoder)
	err := s.do(ctx, func() error {
		s.sync.Register(r, src, d)
		s.decks[src] = d
		s.deps.Mixer.Add(d)
		return nil
	})
	if err != nil {
		return err
	}
	go s.load(r, d)
	return nil
}

func (s *Studio) load(r playback.Role, d *playback.Deck) {
	if err := d.Load(); err != nil {
		s.lg.Warnw("track not playable", "role", r, "src", d.Source(), "error", err)
		return
	}
	_ = s.do(s.ctx, func() error {
		s.sync.TrackReady(r, d.Source())
		return nil
	})
}

// revoke releases a replaced track. Called by the synchronizer on the loop.
func (s *Studio) revoke(src string) {
	if d, ok := s.decks[src]; ok {
		s.deps.Mixer.Remove(d)
		delete(s.decks, src)
	}
	if s.cfg.SpoolDir != "" && filepath.Dir(src) == filepath.Clean(s.cfg.SpoolDir) {
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.lg.Warnw("remove spooled take", "path", src, "error", err)
		}
	}
}

// spool writes blob to the spool dir so the deck can decode it.
func (s *Studio) spool(id string, b *capture.Blob) (string, error) {
	if s.cfg.SpoolDir == "" {
		return "", errors.New("no spool dir")
	}
	path := filepath.Join(s.cfg.SpoolDir, id+extensionFor(b))
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("spool take: %w", err)
	}
	return path, nil
}

func extensionFor(b *capture.Blob) string {
	if ext := filepath.Ext(b.Name()); ext != "" {
		return ext
	}
	switch {
	case strings.Contains(b.MimeType(), "wav"):
		return ".wav"
	case strings.Contains(b.MimeType(), "ogg"):
		return ".ogg"
	}
	return ".webm"
}

// finish records the outcome of an upload for r.
func (s *Studio) finish(ctx context.Context, r playback.Role, res *tutor.AnalysisResult, err error) {
	s.settle(ctx, r, uuid.Nil, res, err)
}

func (s *Studio) settle(ctx context.Context, r playback.Role, pending uuid.UUID, res *tutor.AnalysisResult, err error) {
	_ = s.do(context.WithoutCancel(ctx), func() error {
		sl := s.slots[r]
		sl.pendingID = pending
		if err != nil {
			sl.setStatus(StatusError, err)
			return nil
		}
		sl.result = res
		sl.setStatus(StatusSuccess, nil)
		return nil
	})
}

// Close stops any live capture.
func (s *Studio) Close(ctx context.Context) {
	_ = s.do(ctx, func() error {
		s.stopFrameClock()
		for _, sl := range s.slots {
			if sl.live() {
				if _, err := sl.session.Stop(); err != nil {
					s.lg.Warnw("stop capture on close", "role", sl.role, "error", err)
				}
				sl.session = nil
			}
		}
		return nil
	})
}
