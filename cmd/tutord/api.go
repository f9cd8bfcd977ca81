package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/capture"
	"github.com/thakursameershetty/music-tutor-app/internal/playback"
	"github.com/thakursameershetty/music-tutor-app/internal/store"
	"github.com/thakursameershetty/music-tutor-app/internal/studio"
	"github.com/thakursameershetty/music-tutor-app/internal/tutor"
)

// maxUpload bounds an uploaded audio file.
const maxUpload = 64 << 20

// workspace is the part of the studio the HTTP API drives.
type workspace interface {
	StartCapture(ctx context.Context, r playback.Role) error
	StopCapture(ctx context.Context, r playback.Role) (*tutor.AnalysisResult, error)
	UploadFile(ctx context.Context, r playback.Role, name string, data []byte) (*tutor.AnalysisResult, error)
	RetryPending(ctx context.Context, id uuid.UUID) (*tutor.AnalysisResult, error)
	Pending() ([]store.Pending, error)
	History(ctx context.Context) ([]tutor.HistoryEntry, error)
	LoadHistory(ctx context.Context, id int64) (*tutor.AnalysisResult, error)
	Report(ctx context.Context) ([]byte, error)
	Status(ctx context.Context) (studio.Status, error)
	ToggleScrub(ctx context.Context) (bool, error)
	PointerEnter(ctx context.Context) error
	PointerMove(ctx context.Context, sample tutor.Sample) error
	PointerLeave(ctx context.Context) error
	SetFocus(ctx context.Context, f playback.Focus) (playback.Focus, error)
}

type accounts interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) error
}

type tokenStore interface {
	Token() string
	SetToken(tok string) error
	Invalidate()
}

type api struct {
	ws        workspace
	accounts  accounts
	tokens    tokenStore
	listeners func() map[string]int
	lg        *zap.SugaredLogger
}

func newAPI(ws workspace, acct accounts, tokens tokenStore, listeners func() map[string]int, lg *zap.SugaredLogger) *api {
	return &api{ws: ws, accounts: acct, tokens: tokens, listeners: listeners, lg: lg}
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/capture/{role}/start", a.withRole(a.startCapture))
	mux.HandleFunc("POST /api/capture/{role}/stop", a.withRole(a.stopCapture))
	mux.HandleFunc("POST /api/upload/{role}", a.withRole(a.upload))
	mux.HandleFunc("GET /api/status", a.status)

	mux.HandleFunc("POST /api/scrub/toggle", a.scrubToggle)
	mux.HandleFunc("POST /api/scrub/enter", a.scrubEnter)
	mux.HandleFunc("POST /api/scrub/move", a.scrubMove)
	mux.HandleFunc("POST /api/scrub/leave", a.scrubLeave)
	mux.HandleFunc("POST /api/scrub/focus", a.scrubFocus)

	mux.HandleFunc("GET /api/history", a.history)
	mux.HandleFunc("POST /api/history/{id}/load", a.loadHistory)
	mux.HandleFunc("GET /api/report", a.report)
	mux.HandleFunc("GET /api/pending", a.pending)
	mux.HandleFunc("POST /api/pending/{id}/retry", a.retryPending)

	mux.HandleFunc("POST /api/login", a.login)
	mux.HandleFunc("POST /api/register", a.register)
	mux.HandleFunc("POST /api/logout", a.logout)
}

func (a *api) withRole(h func(http.ResponseWriter, *http.Request, playback.Role)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := playback.ParseRole(r.PathValue("role"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h(w, r, role)
	}
}

func (a *api) startCapture(w http.ResponseWriter, r *http.Request, role playback.Role) {
	if err := a.ws.StartCapture(r.Context(), role); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "role": role.String()})
}

func (a *api) stopCapture(w http.ResponseWriter, r *http.Request, role playback.Role) {
	res, err := a.ws.StopCapture(r.Context(), role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) upload(w http.ResponseWriter, r *http.Request, role playback.Role) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field \"file\" required", http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := a.ws.UploadFile(r.Context(), role, hdr.Filename, data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	st, err := a.ws.Status(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"studio":    st,
		"signed_in": a.tokens.Token() != "",
		"listeners": a.listeners(),
	})
}

func (a *api) scrubToggle(w http.ResponseWriter, r *http.Request) {
	on, err := a.ws.ToggleScrub(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": on})
}

func (a *api) scrubEnter(w http.ResponseWriter, r *http.Request) {
	a.ok(w, r, a.ws.PointerEnter(r.Context()))
}

func (a *api) scrubLeave(w http.ResponseWriter, r *http.Request) {
	a.ok(w, r, a.ws.PointerLeave(r.Context()))
}

// scrubMove takes the chart sample under the pointer as the JSON body.
func (a *api) scrubMove(w http.ResponseWriter, r *http.Request) {
	var sample tutor.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, "invalid sample", http.StatusBadRequest)
		return
	}
	a.ok(w, r, a.ws.PointerMove(r.Context(), sample))
}

func (a *api) scrubFocus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Focus string `json:"focus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	f, err := playback.ParseFocus(req.Focus)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	got, err := a.ws.SetFocus(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"focus": got.String()})
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	entries, err := a.ws.History(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) loadHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	res, err := a.ws.LoadHistory(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) report(w http.ResponseWriter, r *http.Request) {
	pdf, err := a.ws.Report(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="Report.pdf"`)
	_, _ = w.Write(pdf)
}

func (a *api) pending(w http.ResponseWriter, r *http.Request) {
	list, err := a.ws.Pending()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) retryPending(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	res, err := a.ws.RetryPending(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, false
	}
	return c, c.Username != "" && c.Password != ""
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	c, ok := readCredentials(r)
	if !ok {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}
	tok, err := a.accounts.Login(r.Context(), c.Username, c.Password)
	if err != nil {
		a.lg.Warnw("login failed", "user", c.Username, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err := a.tokens.SetToken(tok); err != nil {
		a.fail(w, r, err)
		return
	}
	a.lg.Infow("signed in", "user", c.Username)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	c, ok := readCredentials(r)
	if !ok {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}
	if err := a.accounts.Register(r.Context(), c.Username, c.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	a.tokens.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) ok(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.lg.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		a.lg.Infow("request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, tutor.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, tutor.ErrAnalysisFailed):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound), errors.Is(err, studio.ErrNoHistoryEntry):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
