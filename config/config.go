// Package config loads rivulet-gen settings from defaults, an optional TOML
// file and RIVGEN_* environment variables, in that order.
package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pingcap/errors"
)

const envPrefix = "RIVGEN_"

type Config struct {
	Engine   EngineConfig   `koanf:"engine"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Preview  PreviewConfig  `koanf:"preview"`
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type EngineConfig struct {
	BaseURL        string        `koanf:"base_url"`
	APIPrefix      string        `koanf:"api_prefix"`
	APIKey         string        `koanf:"api_key"`
	UploadTimeout  time.Duration `koanf:"upload_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	FetchTimeout   time.Duration `koanf:"fetch_timeout"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	PollTimeout    time.Duration `koanf:"poll_timeout"`
	UseWebsocket   bool          `koanf:"use_websocket"`
}

type WorkflowConfig struct {
	Template string `koanf:"template"`
	// TemplatesDir bounds the template names API callers may pick.
	TemplatesDir string `koanf:"templates_dir"`
	ImageNode    string `koanf:"image_node"`
	PromptNode   string `koanf:"prompt_node"`
	SamplerClass string `koanf:"sampler_class"`
}

// PreviewConfig configures the secondary, quota-limited API.
type PreviewConfig struct {
	Provider       string        `koanf:"provider"`
	Model          string        `koanf:"model"`
	Endpoint       string        `koanf:"endpoint"`
	APIKey         string        `koanf:"api_key"`
	MaxAttempts    int           `koanf:"max_attempts"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RatePerSecond  float64       `koanf:"rate_per_second"`
	Burst          int           `koanf:"burst"`
	Temperature    float64       `koanf:"temperature"`
	MaxTokens      int           `koanf:"max_tokens"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type StorageConfig struct {
	Dir     string `koanf:"dir"`
	Backend string `koanf:"backend"`
}

type JobsConfig struct {
	MaxConcurrent int `koanf:"max_concurrent"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads config from a TOML file (if provided) then overlays env vars.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	loadDefaults(k)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, errors.Annotatef(err, "load %s", configPath)
		}
	}

	// RIVGEN_ENGINE_BASE_URL -> engine.base_url. Only the first underscore
	// separates the section; the rest belong to the key.
	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envKey(key), value
	}), nil); err != nil {
		return nil, errors.Trace(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Trace(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if i := strings.IndexByte(key, '_'); i >= 0 {
		return key[:i] + "." + key[i+1:]
	}
	return key
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	if c.Engine.BaseURL == "" {
		return errors.New("engine.base_url is required")
	}
	u, err := url.Parse(c.Engine.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("engine.base_url %q is not an absolute URL", c.Engine.BaseURL)
	}
	for name, d := range map[string]time.Duration{
		"engine.upload_timeout":   c.Engine.UploadTimeout,
		"engine.request_timeout":  c.Engine.RequestTimeout,
		"engine.fetch_timeout":    c.Engine.FetchTimeout,
		"engine.poll_interval":    c.Engine.PollInterval,
		"engine.poll_timeout":     c.Engine.PollTimeout,
		"preview.request_timeout": c.Preview.RequestTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Engine.PollInterval > c.Engine.PollTimeout {
		return errors.Errorf("engine.poll_interval %s exceeds engine.poll_timeout %s",
			c.Engine.PollInterval, c.Engine.PollTimeout)
	}
	if c.Workflow.ImageNode == "" || c.Workflow.PromptNode == "" {
		return errors.New("workflow.image_node and workflow.prompt_node are required")
	}
	if c.Preview.Temperature < 0 || c.Preview.MaxTokens < 0 {
		return errors.New("preview.temperature and preview.max_tokens must not be negative")
	}
	if c.Preview.MaxAttempts < 1 {
		return errors.Errorf("preview.max_attempts must be at least 1, got %d", c.Preview.MaxAttempts)
	}
	switch c.Storage.Backend {
	case "local", "mem":
	default:
		return errors.Errorf("storage.backend must be local or mem, got %q", c.Storage.Backend)
	}
	if c.Jobs.MaxConcurrent < 1 {
		return errors.Errorf("jobs.max_concurrent must be at least 1, got %d", c.Jobs.MaxConcurrent)
	}
	return nil
}

// Addr is the listen address of the HTTP API.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
