package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brauliopf/brain-tumor-classification/config"
)

func ollamaServer(t *testing.T, handler func(req api.GenerateRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req api.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeOverlayFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(p, []byte("overlay-bytes"), 0o644))
	return p
}

func TestOllamaExplainer(t *testing.T) {
	var got api.GenerateRequest
	srv := ollamaServer(t, func(req api.GenerateRequest) (int, string) {
		got = req
		return http.StatusOK, `{"model":"llava","response":"  The model focuses on the left temporal lobe. ","done":true}`
	})

	e, err := NewOllamaExplainer(&config.ExplainerConfig{
		Host:         srv.URL,
		Model:        "llava",
		Timeout:      5 * time.Second,
		MaxSentences: 4,
	})
	require.NoError(t, err)

	text, err := e.Explain(context.Background(), writeOverlayFile(t), "Glioma", 0.91)
	require.NoError(t, err)
	assert.Equal(t, "The model focuses on the left temporal lobe.", text)

	assert.Equal(t, "llava", got.Model)
	require.Len(t, got.Images, 1)
	assert.Equal(t, "overlay-bytes", string(got.Images[0]))
	require.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
	assert.Contains(t, got.Prompt, "class 'Glioma' with a confidence of 91.00%")
	assert.Contains(t, got.Prompt, "4 sentences max")
}

func TestOllamaExplainerFailures(t *testing.T) {
	srv := ollamaServer(t, func(api.GenerateRequest) (int, string) {
		return http.StatusInternalServerError, `{"error":"model not loaded"}`
	})
	e, err := NewOllamaExplainer(&config.ExplainerConfig{Host: srv.URL, Model: "llava"})
	require.NoError(t, err)

	_, err = e.Explain(context.Background(), writeOverlayFile(t), "Glioma", 0.5)
	assert.Error(t, err)

	_, err = e.Explain(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "Glioma", 0.5)
	assert.Error(t, err)

	empty := ollamaServer(t, func(api.GenerateRequest) (int, string) {
		return http.StatusOK, `{"model":"llava","response":"","done":true}`
	})
	e, err = NewOllamaExplainer(&config.ExplainerConfig{Host: empty.URL, Model: "llava"})
	require.NoError(t, err)
	_, err = e.Explain(context.Background(), writeOverlayFile(t), "Glioma", 0.5)
	assert.ErrorIs(t, err, ErrEmptyExplanation)
}

func TestNewExplainerProviders(t *testing.T) {
	e, err := NewExplainer(&config.ExplainerConfig{Provider: "none", Placeholder: "n/a"})
	require.NoError(t, err)
	text, err := e.Explain(context.Background(), "", "Glioma", 0.9)
	require.NoError(t, err)
	assert.Equal(t, "n/a", text)

	e, err = NewExplainer(&config.ExplainerConfig{Provider: "ollama", Host: "http://localhost:11434"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaExplainer{}, e)

	_, err = NewExplainer(&config.ExplainerConfig{Provider: "gemini"})
	assert.Error(t, err)
}

func TestExplanationPrompt(t *testing.T) {
	p := ExplanationPrompt("No tumor", 0.875, 0)
	assert.True(t, strings.HasPrefix(p, "You are an expert neurologist."))
	assert.Contains(t, p, "'No tumor' with a confidence of 87.50%")
	assert.Contains(t, p, "Keep your explanation to 4 sentences max.")
}
