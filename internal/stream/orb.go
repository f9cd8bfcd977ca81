package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/orb"
)

const (
	orbWriteWait  = 2 * time.Second
	orbPingPeriod = 20 * time.Second
	orbClientBuf  = 8
)

var orbUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// OrbHandler pushes rendered particle frames to WebSocket clients as JSON
// text messages. Clients that fall behind skip frames.
type OrbHandler struct {
	lg *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewOrbHandler(lg *zap.SugaredLogger) *OrbHandler {
	return &OrbHandler{lg: lg, clients: make(map[chan []byte]struct{})}
}

// ClientCount returns the number of connected clients.
func (h *OrbHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends f to every client. It never blocks.
func (h *OrbHandler) Publish(f orb.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	msg, err := json.Marshal(f)
	if err != nil {
		h.lg.Errorw("encode orb frame", "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c <- msg:
		default:
		}
	}
}

func (h *OrbHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := orbUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Warnw("orb websocket upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	c := make(chan []byte, orbClientBuf)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()
	h.lg.Infow("orb client connected", "remote", r.RemoteAddr, "clients", h.ClientCount())

	// reader only watches for the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(orbPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			h.lg.Infow("orb client disconnected", "remote", r.RemoteAddr)
			return
		case msg := <-c:
			_ = conn.SetWriteDeadline(time.Now().Add(orbWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(orbWriteWait)); err != nil {
				return
			}
		}
	}
}
