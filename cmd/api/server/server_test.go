package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/config"
	"github.com/Tsinling0525/rivulet-gen/nodes/ollama"
)

const template = `{
  "3": {"inputs": {"seed": 1}, "class_type": "KSampler"},
  "6": {"inputs": {"prompt": ""}, "class_type": "TextEncode"},
  "10": {"inputs": {"image": ""}, "class_type": "LoadImage"}
}`

func fakeEngine() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/image", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name": "in.png", "subfolder": "", "type": "input"}`)
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"prompt_id": "p1"}`)
	})
	mux.HandleFunc("/history/p1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"p1": {"outputs": {"9": {"images": [{"filename": "o.png", "subfolder": "", "type": "output"}]}},
		  "status": {"completed": true}}}`)
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "generated")
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"response": "a quick sketch"}`)
	})
	return mux
}

func testApp(t *testing.T) *App {
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(fakeEngine())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	tpl := filepath.Join(dir, "wf.json")
	require.NoError(t, os.WriteFile(tpl, []byte(template), 0o644))

	t.Setenv("RIVGEN_ENGINE_BASE_URL", srv.URL)
	t.Setenv("RIVGEN_ENGINE_POLL_INTERVAL", "10ms")
	t.Setenv("RIVGEN_WORKFLOW_TEMPLATE", tpl)
	t.Setenv("RIVGEN_WORKFLOW_TEMPLATES_DIR", dir)
	t.Setenv("RIVGEN_STORAGE_BACKEND", "mem")
	t.Setenv("RIVGEN_PREVIEW_PROVIDER", "ollama")
	t.Setenv("RIVGEN_PREVIEW_ENDPOINT", srv.URL+"/api/generate")
	cfg, err := config.Load("")
	require.NoError(t, err)

	app, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func decode(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	r := NewRouter(testApp(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decode(t, w).Success)
}

func TestJobLifecycle(t *testing.T) {
	r := NewRouter(testApp(t))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "cat.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("cat"))
	require.NoError(t, mw.WriteField("prompt", "a red fox"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode(t, w).Data["id"].(string)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		job := decode(t, w).Data["job"].(map[string]any)
		return job["state"] == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/result", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "generated", w.Body.String())
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/logs", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `rivgen_engine_jobs_total{outcome="completed"}`)
}

func TestJobErrors(t *testing.T) {
	r := NewRouter(testApp(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/nope/result", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("prompt=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func postJob(t *testing.T, r http.Handler, fields map[string]string) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "cat.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("cat"))
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitJobRejectsTemplateOutsideDir(t *testing.T) {
	app := testApp(t)
	r := NewRouter(app)

	for _, name := range []string{"../../etc/passwd", "/etc/passwd", "a/../../wf.json", ".."} {
		w := postJob(t, r, map[string]string{"prompt": "x", "template": name})
		require.Equal(t, http.StatusBadRequest, w.Code, name)
		require.False(t, decode(t, w).Success)
	}
	require.Empty(t, app.Jobs.List())

	w := postJob(t, r, map[string]string{"prompt": "x", "template": "wf.json"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode(t, w).Data["id"].(string)
	require.Eventually(t, func() bool {
		job, ok := app.Jobs.Get(id)
		return ok && job.State == "completed"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPreview(t *testing.T) {
	r := NewRouter(testApp(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{"prompt": "sketch a fox"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode(t, w).Data["preview"].(map[string]any)
	require.Equal(t, "a quick sketch", p["text"])
	require.Equal(t, false, p["degraded"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewPreviewPassesGenerationSettings(t *testing.T) {
	p, err := newPreview(context.Background(), config.PreviewConfig{
		Provider:       "ollama",
		Endpoint:       "http://127.0.0.1:1/api/generate",
		MaxAttempts:    1,
		RequestTimeout: time.Second,
		Burst:          1,
		Temperature:    0.4,
		MaxTokens:      128,
	}, zap.NewNop())
	require.NoError(t, err)
	n, ok := p.(*ollama.Node)
	require.True(t, ok)
	require.Equal(t, 0.4, n.Cfg.Temperature)
	require.Equal(t, 128, n.Cfg.MaxTokens)
}
