package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pingcap/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/nodes/llm"
	"github.com/Tsinling0525/rivulet-gen/plugin"
)

type ChatGPT struct {
	llm.Base
	apiKey string
}

func (n *ChatGPT) Init(ctx context.Context, cfg plugin.Config, deps plugin.Deps) error {
	n.apiKey = cfg.APIKey
	if n.apiKey == "" {
		n.apiKey = llm.ReadEnvDefault("OPENAI_API_KEY", "")
	}
	if n.apiKey == "" {
		return errors.New("OPENAI_API_KEY is not set")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return n.Base.Init(ctx, cfg, deps)
}

func (n *ChatGPT) Preview(ctx context.Context, req plugin.Request) (*plugin.Response, error) {
	prompt, err := n.RenderPrompt(req.Prompt, req.Vars)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"model":       n.Cfg.Model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": n.Cfg.Temperature,
	}
	if n.Cfg.MaxTokens > 0 {
		payload["max_tokens"] = n.Cfg.MaxTokens
	}
	data, err := json.Marshal(payload)
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
		r.Header.Set("Authorization", "Bearer "+n.apiKey)
		return r, nil
	}, func(_ context.Context, cause error) ([]byte, error) {
		n.Logger.Warn("openai unavailable, using offline preview", zap.Error(cause))
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

	content := gjson.GetBytes(res.Body, "choices.0.message.content")
	if !content.Exists() {
		return nil, errors.Errorf("openai: unexpected response: %.200s", res.Body)
	}
	return &plugin.Response{Text: content.String(), Model: n.Cfg.Model, Attempts: res.Attempts}, nil
}

func init() { plugin.Register("openai", func() plugin.Provider { return &ChatGPT{} }) }
