package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/thakursameershetty/music-tutor-app/internal/audio"
)

// WebRTCHandler answers SDP offers with an Opus track carrying the playback mix.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	lg          *zap.SugaredLogger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler creates a handler encoding at bitrate bps (128000 if <= 0).
func NewWebRTCHandler(b *Broadcaster, bitrate int, lg *zap.SugaredLogger) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = 128000
	}
	return &WebRTCHandler{
		broadcaster: b,
		bitrate:     bitrate,
		lg:          lg,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		peers = append(peers, pc)
	}
	h.mu.Unlock()
	for _, pc := range peers {
		_ = pc.Close()
	}
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	answer, err := h.answer(offer)
	if err != nil {
		h.lg.Warnw("webrtc negotiation failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(answer)
}

// answer builds a peer for offer and starts streaming to it once ICE
// gathering is complete.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"music-tutor-playback",
	)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}
	sdp, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(sdp); err != nil {
		pc.Close()
		return nil, err
	}
	<-webrtc.GatheringCompletePromise(pc)

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	h.mu.Unlock()
	h.lg.Infow("webrtc peer connected", "peers", h.PeerCount())

	l := h.broadcaster.Subscribe()
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.mu.Lock()
			delete(h.peers, pc)
			h.mu.Unlock()
			h.broadcaster.Unsubscribe(l)
			pc.Close()
			h.lg.Infow("webrtc peer disconnected", "state", s.String(), "peers", h.PeerCount())
		}
	})
	go h.streamTo(track, l)

	return pc.LocalDescription(), nil
}

func (h *WebRTCHandler) streamTo(track *webrtc.TrackLocalStaticSample, l *Listener) {
	defer h.broadcaster.Unsubscribe(l)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.lg.Errorw("webrtc opus encoder", "error", err)
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		h.lg.Warnw("webrtc opus bitrate", "bitrate", h.bitrate, "error", err)
	}

	buf := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame := <-l.C:
			n, err := enc.Encode(frame, buf)
			if err != nil {
				h.lg.Warnw("webrtc opus encode", "error", err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: buf[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}
