package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typing-assistant/src/settings"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newClient(t *testing.T, h http.HandlerFunc, tokens TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Tokens: tokens}, nil)
}

func TestGenerateSendsRequest(t *testing.T) {
	var got GenerateRequest
	var auth string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, generatePath, r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"text":"generated"}`))
	}, staticToken("tok"))

	s := settings.Defaults()
	s.AIFiller = true
	text, err := c.Generate(context.Background(), "the prompt", s, nil)
	require.NoError(t, err)
	assert.Equal(t, "generated", text)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "the prompt", got.Prompt)
	assert.True(t, got.AIFillerEnabled)
	assert.Equal(t, s, got.Settings)
}

func TestGenerateNoTokenNoHeader(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}, staticToken(""))
	_, err := c.Generate(context.Background(), "p", settings.Defaults(), nil)
	require.NoError(t, err)
}

func TestGenerateFieldPrecedence(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"text":"a","response":"b","content":"c"}`, "a"},
		{`{"text":"","response":"b","content":"c"}`, "b"},
		{`{"content":"c"}`, "c"},
		{`{"text":"  ","response":"r"}`, "r"},
	}
	for _, tt := range tests {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(tt.body))
		}, nil)
		text, err := c.Generate(context.Background(), "p", settings.Defaults(), nil)
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, text, tt.body)
	}
}

func TestGenerateInvalidResponse(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"text":""}`} {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}, nil)
		_, err := c.Generate(context.Background(), "p", settings.Defaults(), nil)
		var aerr *Error
		require.True(t, errors.As(err, &aerr), body)
		assert.Equal(t, KindInvalidResponse, aerr.Kind, body)
	}
}

func TestGenerateStatusCategories(t *testing.T) {
	tests := []struct {
		code int
		body string
		want string
	}{
		{http.StatusTooManyRequests, ``, "Rate limited"},
		{http.StatusNotFound, ``, "not found (404)"},
		{http.StatusBadGateway, ``, "AI server error (502)"},
		{http.StatusUnauthorized, `{"error":"token expired"}`, "AI request failed with status 401: token expired"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}, nil)
			_, err := c.Generate(context.Background(), "p", settings.Defaults(), nil)
			var aerr *Error
			require.True(t, errors.As(err, &aerr))
			assert.Equal(t, KindServerStatus, aerr.Kind)
			assert.Equal(t, tt.code, aerr.StatusCode)
			assert.Contains(t, aerr.Error(), tt.want)
		})
	}
}

func TestGenerateConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url}, nil)
	_, err := c.Generate(context.Background(), "p", settings.Defaults(), nil)
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, KindConnection, aerr.Kind)
	assert.NotNil(t, errors.Unwrap(aerr))
}

func TestGenerateReportsCappedProgress(t *testing.T) {
	long := strings.Repeat("x", 20000)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": long})
	}, nil)

	var reports []int
	text, err := c.Generate(context.Background(), "p", settings.Defaults(), func(p int) { reports = append(reports, p) })
	require.NoError(t, err)
	assert.Equal(t, long, text)
	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1], "progress must increase")
	}
	assert.Equal(t, StartPercent+MaxContribution, reports[len(reports)-1])
}

func TestProgressFor(t *testing.T) {
	assert.Equal(t, StartPercent, ProgressFor(0))
	assert.Equal(t, StartPercent+1, ProgressFor(bytesPerPercent))
	assert.Equal(t, StartPercent+MaxContribution, ProgressFor(1<<30))
}
