package gemini

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Tsinling0525/rivulet-gen/plugin"
	"github.com/Tsinling0525/rivulet-gen/ratelimit"
)

func newProvider(t *testing.T, endpoint string, attempts int) *Provider {
	p := &Provider{}
	err := p.Init(context.Background(),
		plugin.Config{Endpoint: endpoint, APIKey: "k"},
		plugin.Deps{Caller: ratelimit.New(ratelimit.WithMaxAttempts(attempts), ratelimit.WithName("gemini"))})
	require.NoError(t, err)
	return p
}

func TestPreviewRetriesQuota(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "a red fox", gjson.GetBytes(body, "contents.0.parts.0.text").String())
		assert.Equal(t, "image/png", gjson.GetBytes(body, "contents.0.parts.1.inline_data.mime_type").String())

		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error": {"code": 429, "status": "RESOURCE_EXHAUSTED"}}`)
			return
		}
		img := base64.StdEncoding.EncodeToString([]byte("out"))
		_, _ = io.WriteString(w, `{"candidates": [{"content": {"parts": [
		  {"text": "a fox"}, {"inlineData": {"mimeType": "image/png", "data": "`+img+`"}}]}}]}`)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, 3)
	resp, err := p.Preview(context.Background(), plugin.Request{Prompt: "a red fox", Image: []byte("in"), ImageType: "image/png"})
	require.NoError(t, err)
	require.False(t, resp.Degraded)
	require.Equal(t, 2, resp.Attempts)
	require.Equal(t, "a fox", resp.Text)
	require.Equal(t, []byte("out"), resp.Image)
	require.Equal(t, "image/png", resp.ImageType)
}

func TestPreviewDegradesAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, 2)
	resp, err := p.Preview(context.Background(), plugin.Request{Prompt: "hello {{.name}}", Vars: map[string]any{"name": "fox"}, Image: []byte("in")})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, []byte("in"), resp.Image)
	require.Equal(t, "[offline preview] hello fox", resp.Text)
}

func TestParseResponse(t *testing.T) {
	_, err := parseResponse([]byte(`{"promptFeedback": {"blockReason": "SAFETY"}}`))
	require.ErrorContains(t, err, "SAFETY")

	_, err = parseResponse([]byte(`nope`))
	require.Error(t, err)

	out, err := parseResponse([]byte(`{"candidates": [{"content": {"parts": [{"text": "a"}, {"text": "b"}]}}]}`))
	require.NoError(t, err)
	require.Equal(t, "ab", out.Text)
	require.Nil(t, out.Image)
}

func TestInitRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	err := (&Provider{}).Init(context.Background(), plugin.Config{}, plugin.Deps{})
	require.Error(t, err)
}
