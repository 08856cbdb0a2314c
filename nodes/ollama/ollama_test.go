package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsinling0525/rivulet-gen/plugin"
)

func TestOllamaPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llava", body["model"])
		assert.Equal(t, false, body["stream"])
		assert.Len(t, body["images"], 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "a dog", "done": true})
	}))
	defer srv.Close()

	n := &Node{}
	require.NoError(t, n.Init(context.Background(), plugin.Config{Endpoint: srv.URL}, plugin.Deps{}))
	resp, err := n.Preview(context.Background(), plugin.Request{Prompt: "what is this", Image: []byte{1}})
	require.NoError(t, err)
	require.Equal(t, "a dog", resp.Text)
	require.False(t, resp.Degraded)
}

func TestOllamaRejectsEmptyPrompt(t *testing.T) {
	n := &Node{}
	require.NoError(t, n.Init(context.Background(), plugin.Config{Endpoint: "http://unused"}, plugin.Deps{}))
	_, err := n.Preview(context.Background(), plugin.Request{Prompt: "  "})
	require.Error(t, err)
}
