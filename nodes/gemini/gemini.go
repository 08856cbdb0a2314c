// Package gemini previews prompts with Google's generateContent API, which
// reports quota exhaustion with a structured RetryInfo detail.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pingcap/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/nodes/llm"
	"github.com/Tsinling0525/rivulet-gen/plugin"
)

const (
	defaultModel = "gemini-2.0-flash"
	defaultBase  = "https://generativelanguage.googleapis.com/v1beta"
)

type Provider struct {
	llm.Base
	endpoint string
	apiKey   string
}

func (p *Provider) Init(ctx context.Context, cfg plugin.Config, deps plugin.Deps) error {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	p.apiKey = cfg.APIKey
	if p.apiKey == "" {
		p.apiKey = llm.ReadEnvDefault("GEMINI_API_KEY", "")
	}
	if p.apiKey == "" {
		return errors.New("gemini: api key is not set")
	}
	p.endpoint = cfg.Endpoint
	if p.endpoint == "" {
		p.endpoint = defaultBase + "/models/" + url.PathEscape(cfg.Model) + ":generateContent"
	}
	return p.Base.Init(ctx, cfg, deps)
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content      `json:"contents"`
	GenerationConfig map[string]any `json:"generationConfig,omitempty"`
}

func (p *Provider) Preview(ctx context.Context, req plugin.Request) (*plugin.Response, error) {
	prompt, err := p.RenderPrompt(req.Prompt, req.Vars)
	if err != nil {
		return nil, err
	}

	parts := []part{{Text: prompt}}
	if len(req.Image) > 0 {
		mt := req.ImageType
		if mt == "" {
			mt = http.DetectContentType(req.Image)
		}
		parts = append(parts, part{InlineData: &inlineData{MimeType: mt, Data: base64.StdEncoding.EncodeToString(req.Image)}})
	}
	gr := generateRequest{Contents: []content{{Parts: parts}}}
	if p.Cfg.Temperature > 0 || p.Cfg.MaxTokens > 0 {
		gr.GenerationConfig = map[string]any{}
		if p.Cfg.Temperature > 0 {
			gr.GenerationConfig["temperature"] = p.Cfg.Temperature
		}
		if p.Cfg.MaxTokens > 0 {
			gr.GenerationConfig["maxOutputTokens"] = p.Cfg.MaxTokens
		}
	}
	payload, err := json.Marshal(gr)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var degraded *plugin.Response
	res, err := p.Call(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-goog-api-key", p.apiKey)
		return r, nil
	}, func(_ context.Context, cause error) ([]byte, error) {
		p.Logger.Warn("gemini unavailable, using offline preview", zap.Error(cause))
		degraded = llm.Fallback(req, prompt, p.Cfg.Model)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Degraded {
		degraded.Attempts = res.Attempts
		return degraded, nil
	}
	out, err := parseResponse(res.Body)
	if err != nil {
		return nil, err
	}
	out.Model = p.Cfg.Model
	out.Attempts = res.Attempts
	return out, nil
}

// parseResponse collects the text and the first inline image of the first
// candidate.
func parseResponse(body []byte) (*plugin.Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("gemini: response is not JSON")
	}
	parts := gjson.GetBytes(body, "candidates.0.content.parts")
	if !parts.IsArray() {
		reason := gjson.GetBytes(body, "promptFeedback.blockReason").String()
		if reason != "" {
			return nil, errors.Errorf("gemini: prompt blocked: %s", reason)
		}
		return nil, errors.New("gemini: response has no candidates")
	}

	out := &plugin.Response{}
	var text strings.Builder
	parts.ForEach(func(_, pt gjson.Result) bool {
		if t := pt.Get("text"); t.Exists() {
			text.WriteString(t.String())
		}
		inline := pt.Get("inlineData")
		if !inline.Exists() {
			inline = pt.Get("inline_data")
		}
		if inline.Exists() && out.Image == nil {
			data, err := base64.StdEncoding.DecodeString(inline.Get("data").String())
			if err == nil {
				out.Image = data
				out.ImageType = inline.Get("mimeType").String()
				if out.ImageType == "" {
					out.ImageType = inline.Get("mime_type").String()
				}
			}
		}
		return true
	})
	out.Text = text.String()
	return out, nil
}

func init() { plugin.Register("gemini", func() plugin.Provider { return &Provider{} }) }
