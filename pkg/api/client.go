// Package api is the HTTP client for the interview service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/resilience"
)

const (
	livePrefix      = "/app/live"
	avatarPrefix    = "/app/live/avatar"
	roomSessionPath = avatarPrefix + "/simli/session"
	maxErrorBody    = 2048
)

type Config struct {
	BaseURL string
	// Token is sent as a bearer token on every call.
	Token   string
	Timeout time.Duration
}

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient, logger: logging.NewComponentLogger(logger, "api_client")}
}

func (c *Client) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	var out StartResponse
	err := c.postJSON(ctx, "start", livePrefix+"/start", req, &out)
	return out, errorsx.Wrap(err, errorsx.ReasonSessionStart)
}

func (c *Client) Answer(ctx context.Context, sessionID string, req AnswerRequest) (AdvanceResponse, error) {
	var out AdvanceResponse
	err := c.postJSON(ctx, "answer", sessionPath(sessionID, "answer"), req, &out)
	return out, errorsx.Wrap(err, errorsx.ReasonSubmit)
}

func (c *Client) Skip(ctx context.Context, sessionID string, req SkipRequest) (AdvanceResponse, error) {
	var out AdvanceResponse
	err := c.postJSON(ctx, "skip", sessionPath(sessionID, "skip"), req, &out)
	return out, errorsx.Wrap(err, errorsx.ReasonSkip)
}

func (c *Client) TurnEvaluate(ctx context.Context, sessionID string, req EvaluateRequest) (EvaluateResponse, error) {
	var out EvaluateResponse
	err := c.postJSON(ctx, "turn_evaluate", sessionPath(sessionID, "turn-evaluate"), req, &out)
	return out, errorsx.Wrap(err, errorsx.ReasonEvaluate)
}

func (c *Client) Speak(ctx context.Context, req SpeakRequest) (SpeakResponse, error) {
	var out SpeakResponse
	err := c.postJSON(ctx, "avatar_speak", avatarPrefix+"/speak", req, &out)
	return out, errorsx.Wrap(err, errorsx.ReasonAvatarSpeak)
}

func (c *Client) RenderStatus(ctx context.Context, requestID, provider string) (StatusResponse, error) {
	q := url.Values{}
	q.Set("requestId", requestID)
	if provider != "" {
		q.Set("provider", provider)
	}
	var out StatusResponse
	err := c.do(ctx, "avatar_status", http.MethodGet, avatarPrefix+"/status?"+q.Encode(), nil, "", &out)
	return out, errorsx.Wrap(err, errorsx.ReasonAvatarStatus)
}

// RoomSession asks the service for a realtime avatar room to join.
func (c *Client) RoomSession(ctx context.Context, sessionID string) (RoomDescriptor, error) {
	var out RoomDescriptor
	err := c.postJSON(ctx, "room_session", roomSessionPath, RoomSessionRequest{SessionID: sessionID}, &out)
	return out, errorsx.Wrap(err, errorsx.ReasonRoomToken)
}

// End finalizes the session and uploads the recording when one exists.
func (c *Client) End(ctx context.Context, sessionID, recordingPath string) (EndResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if recordingPath != "" {
		if err := attachFile(mw, "audio", recordingPath); err != nil {
			return EndResponse{}, errorsx.Wrap(fmt.Errorf("attach recording: %w", err), errorsx.ReasonRecording)
		}
	}
	if err := mw.Close(); err != nil {
		return EndResponse{}, errorsx.Wrap(err, errorsx.ReasonSessionEnd)
	}
	var out EndResponse
	err := c.do(ctx, "end", http.MethodPost, sessionPath(sessionID, "end"), &body, mw.FormDataContentType(), &out)
	return out, errorsx.Wrap(err, errorsx.ReasonSessionEnd)
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func sessionPath(sessionID, action string) string {
	return livePrefix + "/" + url.PathEscape(sessionID) + "/" + action
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, bytes.NewReader(b), "application/json", out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("api_request_failed", slog.String("op", op), slog.String("error", err.Error()))
		if ctx.Err() != nil {
			return errorsx.Classify(fmt.Errorf("%s: %w", op, ctx.Err()), errorsx.ClassProviderUnavailable)
		}
		return errorsx.Classify(fmt.Errorf("%s: %w", op, err), errorsx.ClassTransient)
	}
	defer resp.Body.Close()

	c.logger.Debug("api_response",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(op, resp, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorsx.Classify(fmt.Errorf("%s: decode response: %w", op, err), errorsx.ClassTransient)
	}
	return nil
}

func classifyStatus(op string, resp *http.Response, body string) error {
	se := &StatusError{Op: op, Status: resp.StatusCode, Body: body}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errorsx.Classify(errorsx.Wrap(se, errorsx.ReasonAuthExpired), errorsx.ClassAuthExpired)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errorsx.Classify(resilience.RateLimitError{
			Provider:   op,
			Message:    se.Error(),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}, errorsx.ClassProviderUnavailable)
	default:
		return errorsx.Classify(se, errorsx.ClassTransient)
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
