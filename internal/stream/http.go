package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/audio"
)

// HTTPHandler serves the playback mix as a chunked MP3 stream. Each request
// gets its own ffmpeg encoder.
type HTTPHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	lg          *zap.SugaredLogger
}

// NewHTTPHandler creates a handler encoding at bitrate kbps (192 if <= 0).
func NewHTTPHandler(b *Broadcaster, bitrate int, lg *zap.SugaredLogger) *HTTPHandler {
	if bitrate <= 0 {
		bitrate = 192
	}
	return &HTTPHandler{broadcaster: b, bitrate: bitrate, lg: lg}
}

// mp3Args builds the ffmpeg command line for PCM on stdin to MP3 on stdout.
func mp3Args(bitrate int) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(bitrate) + "k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", mp3Args(h.bitrate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.lg.Errorw("mp3 stream stdin", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.lg.Errorw("mp3 stream stdout", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.lg.Errorw("mp3 stream ffmpeg start", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	defer cmd.Wait()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	l := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(l)

	h.lg.Infow("mp3 listener connected", "remote", r.RemoteAddr, "listeners", h.broadcaster.ListenerCount())
	defer h.lg.Infow("mp3 listener disconnected", "remote", r.RemoteAddr)

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.Done():
				return
			case frame := <-l.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.lg.Warnw("mp3 stream read", "error", err)
			}
			return
		}
	}
}
