// Package ai calls the remote generation server.
package ai

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
	generatePath = "/api/ai/generate"

	// Progress reported while the body streams in: StartPercent plus one
	// point per bytesPerPercent received, capped at MaxContribution.
	StartPercent    = 10
	MaxContribution = 70
	bytesPerPercent = 64
	readChunkSize   = 1024
	maxBodyBytes    = 4 << 20
)

type ErrorKind int

const (
	KindInvalidResponse ErrorKind = iota + 1
	KindConnection
	KindServerStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidResponse:
		return "invalid_response"
	case KindConnection:
		return "connection"
	case KindServerStatus:
		return "server_status"
	default:
		return "unknown"
	}
}

// Error is returned for every failed generation. Message is fit for the user.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// ProgressFunc receives a percentage while the response body arrives.
type ProgressFunc func(percent int)

// TokenSource supplies the bearer token; an empty token sends no header.
type TokenSource interface {
	Token() string
}

type Config struct {
	BaseURL string
	// Zero leaves request timeouts to the transport.
	Timeout time.Duration
	Tokens  TokenSource
}

type GenerateRequest struct {
	Prompt          string              `json:"prompt"`
	Settings        settings.Generation `json:"settings"`
	AIFillerEnabled bool                `json:"ai_filler_enabled"`
}

type generateResponse struct {
	Text     string `json:"text"`
	Response string `json:"response"`
	Content  string `json:"content"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// Generate posts the prompt once; there is no retry at this layer.
func (c *Client) Generate(ctx context.Context, prompt string, s settings.Generation, progress ProgressFunc) (string, error) {
	payload, err := json.Marshal(GenerateRequest{Prompt: prompt, Settings: s, AIFillerEnabled: s.AIFiller})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+generatePath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Tokens != nil {
		if tok := c.cfg.Tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Kind: KindConnection, Message: fmt.Sprintf("Could not connect to AI server: %v", err), Err: err}
	}
	defer resp.Body.Close()

	body, err := readWithProgress(resp.Body, progress)
	if err != nil {
		return "", &Error{Kind: KindConnection, Message: fmt.Sprintf("Connection to AI server lost: %v", err), Err: err}
	}
	c.log.Debugw("ai generate", "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, body)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Kind: KindInvalidResponse, Message: "Invalid response from AI server", Err: err}
	}
	for _, candidate := range []string{out.Text, out.Response, out.Content} {
		if strings.TrimSpace(candidate) != "" {
			return candidate, nil
		}
	}
	return "", &Error{Kind: KindInvalidResponse, Message: "AI server returned an empty response"}
}

func readWithProgress(r io.Reader, progress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	last := -1
	limited := io.LimitReader(r, maxBodyBytes)
	for {
		n, err := limited.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if progress != nil {
				if pct := ProgressFor(buf.Len()); pct != last {
					last = pct
					progress(pct)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ProgressFor maps received bytes to the reported percentage.
func ProgressFor(received int) int {
	contribution := received / bytesPerPercent
	if contribution > MaxContribution {
		contribution = MaxContribution
	}
	return StartPercent + contribution
}

func statusError(code int, body []byte) *Error {
	var msg string
	switch {
	case code == http.StatusNotFound:
		msg = "AI service not found (404)"
	case code == http.StatusTooManyRequests:
		msg = "Rate limited: too many requests, please wait and try again"
	case code >= 500:
		msg = fmt.Sprintf("AI server error (%d)", code)
	default:
		msg = fmt.Sprintf("AI request failed with status %d", code)
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if detail := strings.TrimSpace(firstNonEmpty(eb.Error, eb.Message)); detail != "" {
			msg += ": " + detail
		}
	}
	return &Error{Kind: KindServerStatus, StatusCode: code, Message: msg}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
