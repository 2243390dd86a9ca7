// Package backend talks to the local automation server that copies the OS
// selection, emits simulated keystrokes and runs the humanizer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"typing-assistant/src/settings"
)

const (
	PathCopyHighlighted        = "/api/copy-highlighted"
	PathCopyHighlightedOverlay = "/api/copy-highlighted-overlay"
	PathTypingStart            = "/api/typing/start"
	PathTypingStop             = "/api/typing/stop"
	PathTypingPause            = "/api/typing/pause"
	PathHumanize               = "/api/humanizer/process"

	maxErrorBody = 512
)

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

type CopyResult struct {
	Copied bool   `json:"copied"`
	Text   string `json:"text"`
}

type TypingRequest struct {
	Text        string `json:"text"`
	Profile     string `json:"profile"`
	PreviewMode bool   `json:"preview_mode"`
}

type humanizeRequest struct {
	Text     string              `json:"text"`
	Settings settings.Generation `json:"settings"`
}

type humanizeResponse struct {
	Text string `json:"text"`
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.SugaredLogger
}

// New returns a client for baseURL. A zero timeout leaves timing to the transport.
func New(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// CopyHighlighted asks the server to copy the current OS selection to the clipboard.
func (c *Client) CopyHighlighted(ctx context.Context, overlay bool) (CopyResult, error) {
	path := PathCopyHighlighted
	if overlay {
		path = PathCopyHighlightedOverlay
	}
	var res CopyResult
	if err := c.post(ctx, path, struct{}{}, &res); err != nil {
		return CopyResult{}, err
	}
	return res, nil
}

// StartTyping hands text to the server for simulated keystroke emission.
func (c *Client) StartTyping(ctx context.Context, req TypingRequest) error {
	return c.post(ctx, PathTypingStart, req, nil)
}

func (c *Client) StopTyping(ctx context.Context) error {
	return c.post(ctx, PathTypingStop, struct{}{}, nil)
}

func (c *Client) PauseTyping(ctx context.Context) error {
	return c.post(ctx, PathTypingPause, struct{}{}, nil)
}

// Humanize rewrites text. Callers decide whether a failure is fatal.
func (c *Client) Humanize(ctx context.Context, text string, s settings.Generation) (string, error) {
	var res humanizeResponse
	if err := c.post(ctx, PathHumanize, humanizeRequest{Text: text, Settings: s}, &res); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", errors.New("humanizer returned empty text")
	}
	return res.Text, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()
	c.log.Debugw("backend call", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
