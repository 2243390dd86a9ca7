package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typing-assistant/src/settings"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 0, nil)
}

func TestCopyHighlightedPaths(t *testing.T) {
	var paths []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"copied":true,"text":"hello"}`))
	})

	res, err := c.CopyHighlighted(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, CopyResult{Copied: true, Text: "hello"}, res)

	_, err = c.CopyHighlighted(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{PathCopyHighlighted, PathCopyHighlightedOverlay}, paths)
}

func TestStartTypingSendsBody(t *testing.T) {
	var got TypingRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathTypingStart, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.StartTyping(context.Background(), TypingRequest{Text: "abc", Profile: "Normal"})
	require.NoError(t, err)
	assert.Equal(t, TypingRequest{Text: "abc", Profile: "Normal", PreviewMode: false}, got)
}

func TestStartTypingRejected(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already typing", http.StatusConflict)
	})

	err := c.StartTyping(context.Background(), TypingRequest{Text: "abc"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "already typing", se.Body)
}

func TestStopAndPause(t *testing.T) {
	var paths []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
	})
	require.NoError(t, c.StopTyping(context.Background()))
	require.NoError(t, c.PauseTyping(context.Background()))
	assert.Equal(t, []string{PathTypingStop, PathTypingPause}, paths)
}

func TestHumanize(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req humanizeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Casual", req.Settings.Tone)
		_ = json.NewEncoder(w).Encode(humanizeResponse{Text: "rewritten " + req.Text})
	})

	s := settings.Defaults()
	s.Tone = "Casual"
	out, err := c.Humanize(context.Background(), "draft", s)
	require.NoError(t, err)
	assert.Equal(t, "rewritten draft", out)
}

func TestHumanizeFailures(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not json")) }},
		{"empty text", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"text":"  "}`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, tt.h)
			_, err := c.Humanize(context.Background(), "draft", settings.Defaults())
			assert.Error(t, err)
		})
	}
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, 0, nil)
	_, err := c.CopyHighlighted(context.Background(), false)
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}
