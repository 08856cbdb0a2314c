// Package llm holds behavior shared by the preview providers.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/plugin"
	"github.com/Tsinling0525/rivulet-gen/ratelimit"
)

// Base offers shared behavior for providers.
type Base struct {
	Cfg    plugin.Config
	Deps   plugin.Deps
	Logger *zap.Logger
}

// Init stores the configuration, filling Model and Endpoint defaults.
func (b *Base) Init(_ context.Context, cfg plugin.Config, deps plugin.Deps) error {
	if deps.Caller == nil {
		deps.Caller = ratelimit.New(ratelimit.WithLogger(deps.Logger))
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	b.Cfg = cfg
	b.Deps = deps
	b.Logger = deps.Logger
	return nil
}

// RenderPrompt renders prompt as a Go template over vars.
func (b *Base) RenderPrompt(prompt string, vars map[string]any) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if !strings.Contains(prompt, "{{") {
		return prompt, nil
	}
	tpl, err := template.New("prompt").Option("missingkey=zero").Parse(prompt)
	if err != nil {
		return "", errors.Trace(err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, vars); err != nil {
		return "", errors.Trace(err)
	}
	return buf.String(), nil
}

// Call sends a request through the rate-limited caller.
func (b *Base) Call(ctx context.Context, newRequest ratelimit.RequestFunc, fallback ratelimit.FallbackFunc) (*ratelimit.Result, error) {
	return b.Deps.Caller.Do(ctx, newRequest, fallback)
}

// Fallback is the local stand-in used when the API stays unavailable: the
// input image comes back unchanged and the text says what was asked for.
func Fallback(req plugin.Request, prompt, modelName string) *plugin.Response {
	return &plugin.Response{
		Text:      fmt.Sprintf("[offline preview] %s", prompt),
		Image:     req.Image,
		ImageType: req.ImageType,
		Model:     modelName,
		Degraded:  true,
	}
}

// ReadEnvDefault reads env var or returns default.
func ReadEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
