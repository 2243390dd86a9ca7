package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typing-assistant/src/ai"
)

type fakeServers struct {
	ai       *httptest.Server
	backend  *httptest.Server
	requests []ai.GenerateRequest
	auth     []string
}

func newFakeServers(t *testing.T, aiStatus int) *fakeServers {
	t.Helper()
	f := &fakeServers{}
	f.ai = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ai.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.requests = append(f.requests, req)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		w.WriteHeader(aiStatus)
		if aiStatus == http.StatusOK {
			_, _ = w.Write([]byte(`{"text":"generated answer"}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	f.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"humanized answer"}`))
	}))
	t.Cleanup(f.ai.Close)
	t.Cleanup(f.backend.Close)
	t.Setenv("AI_SERVER_URL", f.ai.URL)
	return f
}

func execCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := runWithArgs(append([]string{"typing-assistant-cli"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestGenerateFromText(t *testing.T) {
	f := newFakeServers(t, http.StatusOK)
	dir := t.TempDir()

	out, _, err := execCLI(t, "", "--text", "Why is the sky blue?", "--length", "2", "--tone", "Friendly", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "generated answer", out)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Contains(t, req.Prompt, "Why is the sky blue?")
	assert.Contains(t, req.Prompt, "Tone: Friendly")
	assert.Equal(t, 2, req.Settings.ResponseLength)
	assert.Equal(t, 10, req.Settings.GradeLevel, "unset flags keep saved settings")
	assert.Empty(t, f.auth[0])
}

func TestGenerateSendsSavedToken(t *testing.T) {
	f := newFakeServers(t, http.StatusOK)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.json"), []byte(`{"token":"tok-123","email":"a@b.c"}`), 0o600))

	_, _, err := execCLI(t, "", "--text", "hi", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", f.auth[0])
}

func TestGenerateFromStdinWithJSON(t *testing.T) {
	newFakeServers(t, http.StatusOK)

	out, _, err := execCLI(t, "source from stdin", "--file", "-", "--json", "--data-dir", t.TempDir())
	require.NoError(t, err)

	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "generated answer", res.Text)
	assert.Equal(t, "-", res.Source)
	assert.Equal(t, len("generated answer"), res.CharCount)
	assert.False(t, res.Humanized)
	assert.NotEmpty(t, res.Timestamp)
}

func TestHumanize(t *testing.T) {
	f := newFakeServers(t, http.StatusOK)

	out, _, err := execCLI(t, "", "--text", "hi", "--humanize", "--backend-url", f.backend.URL, "--data-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "humanized answer", out)
}

func TestHumanizeFailureFallsBack(t *testing.T) {
	f := newFakeServers(t, http.StatusOK)
	f.backend.Close()

	out, stderr, err := execCLI(t, "", "--text", "hi", "--humanize", "--backend-url", f.backend.URL, "--data-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "generated answer", out)
	assert.Contains(t, stderr, "humanizer unavailable")
}

func TestRateLimitedReportsServerMessage(t *testing.T) {
	newFakeServers(t, http.StatusTooManyRequests)

	_, _, err := execCLI(t, "", "--text", "hi", "--data-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate limited")
	assert.Contains(t, err.Error(), "slow down")
}

func TestInputValidation(t *testing.T) {
	newFakeServers(t, http.StatusOK)
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte("a"), maxFileSize+1), 0o644))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no source", []string{}, "text"},
		{"both sources", []string{"--text", "a", "--file", empty}, "text"},
		{"empty file", []string{"--file", empty}, "empty"},
		{"oversized file", []string{"--file", big}, "maximum size"},
		{"missing file", []string{"--file", filepath.Join(dir, "nope.txt")}, "failed to read file"},
		{"length out of range", []string{"--text", "a", "--length", "9"}, "response_length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execCLI(t, "", append(tt.args, "--data-dir", dir)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNormalizeLegacyArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		out  []string
	}{
		{
			name: "Normalizes long single dash flags",
			in:   []string{"typing-assistant-cli", "-file", "in.txt", "-json"},
			out:  []string{"typing-assistant-cli", "--file", "in.txt", "--json"},
		},
		{
			name: "Normalizes equals form",
			in:   []string{"typing-assistant-cli", "-length=2", "-tone=Formal"},
			out:  []string{"typing-assistant-cli", "--length=2", "--tone=Formal"},
		},
		{
			name: "Leaves short and unknown flags unchanged",
			in:   []string{"typing-assistant-cli", "-v", "--text", "x", "-other"},
			out:  []string{"typing-assistant-cli", "-v", "--text", "x", "-other"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, normalizeLegacyArgs(tt.in))
		})
	}
}
