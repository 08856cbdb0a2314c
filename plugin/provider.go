package plugin

import (
	"context"

	"go.uber.org/zap"

	"github.com/Tsinling0525/rivulet-gen/model"
	"github.com/Tsinling0525/rivulet-gen/ratelimit"
)

// Deps are shared services handed to providers at Init.
type Deps struct {
	Logger *zap.Logger
	Caller *ratelimit.Caller
}

// Config is the provider section of the configuration.
type Config struct {
	Model       string
	Endpoint    string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// Request is one preview: a prompt, optionally with an input image.
type Request struct {
	Prompt    string
	Image     []byte
	ImageType string
	// Vars are exposed to the prompt template.
	Vars map[string]any
}

// Response is a provider's answer. Degraded marks a locally synthesized
// result used after the upstream API stayed unavailable.
type Response struct {
	Text      string `json:"text,omitempty"`
	Image     []byte `json:"image,omitempty"`
	ImageType string `json:"image_type,omitempty"`
	Model     string `json:"model"`
	Degraded  bool   `json:"degraded"`
	Attempts  int    `json:"attempts"`
}

// Provider is a secondary generative API.
type Provider interface {
	Init(ctx context.Context, cfg Config, deps Deps) error
	Preview(ctx context.Context, req Request) (*Response, error)
}

// FileStore keeps result files grouped per job.
type FileStore interface {
	Put(ctx context.Context, jobID, filename string, contents []byte, mediaType string) (string, error)
	Get(ctx context.Context, jobID, fileID string) (model.FileMeta, []byte, error)
	List(ctx context.Context, jobID string) ([]model.FileMeta, error)
	Delete(ctx context.Context, jobID, fileID string) error
}
