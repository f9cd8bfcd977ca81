// Package tutor is the client for the music analysis service.
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/capture"
	"github.com/thakursameershetty/music-tutor-app/internal/playback"
)

var (
	// ErrAuthExpired means the service rejected the bearer token. The
	// session has already been invalidated.
	ErrAuthExpired = errors.New("tutor: authentication expired")

	// ErrAnalysisFailed covers every other unusable response.
	ErrAnalysisFailed = errors.New("tutor: analysis failed")
)

// Session supplies and revokes the bearer token.
type Session interface {
	Token() string
	Invalidate()
}

// Client talks to the analysis service.
type Client struct {
	http    *resty.Client
	baseURL string
	session Session
	lg      *zap.SugaredLogger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, session Session, lg *zap.SugaredLogger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		http:    resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		baseURL: baseURL,
		session: session,
		lg:      lg,
	}
}

// UploadName is the multipart file name used for blob.
func UploadName(b *capture.Blob) string {
	if b.Name() != "" {
		return b.Name()
	}
	if strings.Contains(b.MimeType(), "wav") {
		return "recording.wav"
	}
	return "recording.webm"
}

// Endpoint is the upload path for a role.
func Endpoint(r playback.Role) string {
	if r == playback.Teacher {
		return "/api/teach"
	}
	return "/api/analyze"
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if tok := c.session.Token(); tok != "" {
		req.SetAuthToken(tok)
	}
	return req
}

// unauthorized invalidates the session once for a 401.
func (c *Client) unauthorized(resp *resty.Response) bool {
	if resp.StatusCode() != http.StatusUnauthorized {
		return false
	}
	c.session.Invalidate()
	c.lg.Warnw("session expired", "url", resp.Request.URL)
	return true
}

// Submit uploads blob for analysis as role. It does not retry.
func (c *Client) Submit(ctx context.Context, b *capture.Blob, r playback.Role) (*AnalysisResult, error) {
	name := UploadName(b)
	resp, err := c.request(ctx).
		SetMultipartField("file", name, b.MimeType(), b.Reader()).
		Post(Endpoint(r))
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", ErrAnalysisFailed, name, err)
	}
	if c.unauthorized(resp) {
		return nil, ErrAuthExpired
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s", ErrAnalysisFailed, describe(resp))
	}

	var result AnalysisResult
	if err := decodeJSON(resp, &result); err != nil {
		return nil, fmt.Errorf("analysis response: %w", err)
	}
	if result.Status != "success" {
		return nil, fmt.Errorf("%w: status %q: %s", ErrAnalysisFailed, result.Status, result.Message)
	}

	c.lg.Infow("analysis received", "role", r, "file", name, "mode", result.Mode, "notes", len(result.Notes))
	return &result, nil
}

// History lists the signed-in user's past attempts, newest first.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	resp, err := c.request(ctx).Get("/api/me/history")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch history: %w", ErrAnalysisFailed, err)
	}
	if c.unauthorized(resp) {
		return nil, ErrAuthExpired
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: fetch history: %s", ErrAnalysisFailed, describe(resp))
	}
	var entries []HistoryEntry
	if err := decodeJSON(resp, &entries); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return entries, nil
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetFormData(map[string]string{"username": username, "password": password}).
		Post("/api/token")
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("login: %s", describe(resp))
	}
	var tok tokenResp
	if err := decodeJSON(resp, &tok); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("login: empty access token")
	}
	return tok.AccessToken, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, password string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetFormData(map[string]string{"username": username, "password": password}).
		Post("/api/register")
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("register: %s", describe(resp))
	}
	return nil
}

// Report downloads the PDF report for the latest student attempt.
func (c *Client) Report(ctx context.Context) ([]byte, error) {
	resp, err := c.request(ctx).SetHeader("Accept", "application/pdf").Get("/api/report")
	if err != nil {
		return nil, fmt.Errorf("fetch report: %w", err)
	}
	if c.unauthorized(resp) {
		return nil, ErrAuthExpired
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch report: %s", describe(resp))
	}
	return resp.Body(), nil
}

// AudioURL is where a history entry's recording is served.
func (c *Client) AudioURL(filename string) string {
	return c.baseURL + "/api/audio/" + url.PathEscape(filename)
}

// decodeJSON unmarshals a successful response body. A body that is not
// declared as JSON is never parsed.
func decodeJSON(resp *resty.Response, v any) error {
	if !isJSON(resp) {
		return fmt.Errorf("%w: unexpected content type %q", ErrAnalysisFailed, resp.Header().Get("Content-Type"))
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrAnalysisFailed, err)
	}
	return nil
}

func isJSON(resp *resty.Response) bool {
	mt, _, err := mime.ParseMediaType(resp.Header().Get("Content-Type"))
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

// describe summarizes an error response, preferring the service's detail.
func describe(resp *resty.Response) string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if isJSON(resp) && json.Unmarshal(resp.Body(), &body) == nil {
		if body.Detail != nil {
			return fmt.Sprintf("%s: %v", resp.Status(), body.Detail)
		}
		if body.Message != "" {
			return fmt.Sprintf("%s: %s", resp.Status(), body.Message)
		}
	}
	return resp.Status()
}
