package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/pingcap/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/nodes/llm"
	"github.com/Tsinling0525/rivulet-gen/plugin"
)

type Node struct {
	llm.Base
}

func (n *Node) Init(ctx context.Context, cfg plugin.Config, deps plugin.Deps) error {
	if cfg.Model == "" {
		cfg.Model = "llava"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = llm.ReadEnvDefault("OLLAMA_HOST", "http://localhost:11434") + "/api/generate"
	}
	return n.Base.Init(ctx, cfg, deps)
}

func (n *Node) Preview(ctx context.Context, req plugin.Request) (*plugin.Response, error) {
	prompt, err := n.RenderPrompt(req.Prompt, req.Vars)
	if err != nil {
		return nil, err
	}
	reqBody := map[string]any{
		"model":  n.Cfg.Model,
		"prompt": prompt,
		"stream": false,
	}
	if len(req.Image) > 0 {
		reqBody["images"] = []string{base64.StdEncoding.EncodeToString(req.Image)}
	}
	opts := map[string]any{}
	if n.Cfg.Temperature > 0 {
		opts["temperature"] = n.Cfg.Temperature
	}
	if n.Cfg.MaxTokens > 0 {
		opts["num_predict"] = n.Cfg.MaxTokens
	}
	if len(opts) > 0 {
		reqBody["options"] = opts
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var degraded *plugin.Response
	res, err := n.Call(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Cfg.Endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, func(_ context.Context, cause error) ([]byte, error) {
		n.Logger.Warn("ollama unavailable, using offline preview", zap.Error(cause))
		degraded = llm.Fallback(req, prompt, n.Cfg.Model)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Degraded {
		degraded.Attempts = res.Attempts
		return degraded, nil
	}

	out := gjson.GetBytes(res.Body, "response")
	if !out.Exists() {
		return nil, errors.Errorf("ollama: unexpected response: %.200s", res.Body)
	}
	return &plugin.Response{Text: out.String(), Model: n.Cfg.Model, Attempts: res.Attempts}, nil
}

func init() { plugin.Register("ollama", func() plugin.Provider { return &Node{} }) }
