package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestEncryptSecretRoundTrip(t *testing.T) {
	t.Setenv("SNAPSIGHT_CONFIG_KEY", "passphrase")

	out, err := execute(t, "sk-live-123\n", "encrypt-secret")
	require.NoError(t, err)

	line := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(line, "enc:"))
	assert.NotContains(t, line, "sk-live-123")

	plain, err := config.DecryptValue(strings.TrimPrefix(line, "enc:"), "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)
}

func TestEncryptSecretRequiresPassphrase(t *testing.T) {
	t.Setenv("SNAPSIGHT_CONFIG_KEY", "")
	_, err := execute(t, "value\n", "encrypt-secret")
	assert.ErrorContains(t, err, "SNAPSIGHT_CONFIG_KEY")
}

func TestEncryptSecretEmptyInput(t *testing.T) {
	t.Setenv("SNAPSIGHT_CONFIG_KEY", "passphrase")
	_, err := execute(t, "\n", "encrypt-secret")
	assert.Error(t, err)
}

func TestServeRequiresAPIKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Vision.Provider.APIKey = ""
	err := runServe(context.Background(), cfg, newDiscardLogger())
	assert.ErrorContains(t, err, "API key")
}

func TestSnapCommandAgainstProxy(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/vision", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.NewTextAnalysis("A yellow test card."))
	}))
	defer proxy.Close()

	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SNAPSIGHT_LOGGER_LEVEL", "error")
	missing := filepath.Join(t.TempDir(), "none.yaml")

	out, err := execute(t, "", "snap", "--config", missing, "--proxy", proxy.URL, "--json")
	require.NoError(t, err)

	var got domain.AnalysisResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "A yellow test card.", got.PrimaryText())
}

func TestSnapCommandReportsStatusMessage(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer proxy.Close()

	t.Setenv("SNAPSIGHT_LOGGER_LEVEL", "error")
	missing := filepath.Join(t.TempDir(), "none.yaml")

	_, err := execute(t, "", "snap", "--config", missing, "--proxy", proxy.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpload)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestPrintAnalysisPlain(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printAnalysis(&out, domain.NewTextAnalysis("A cat on a sofa."), false))
	assert.Contains(t, out.String(), "cat on a sofa")
}

func TestUseTempDir(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	def, err := useTempDir("")
	require.NoError(t, err)
	assert.Equal(t, os.TempDir(), def)

	dir := filepath.Join(t.TempDir(), "spill")
	got, err := useTempDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)
}

func TestUseTempDirUnusable(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := useTempDir(filepath.Join(file, "sub"))
	assert.ErrorContains(t, err, "create temp dir")
}
