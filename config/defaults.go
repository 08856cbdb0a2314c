package config

import "github.com/knadh/koanf/v2"

func loadDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"engine.base_url":        "http://127.0.0.1:8188",
		"engine.api_prefix":      "",
		"engine.upload_timeout":  "120s",
		"engine.request_timeout": "60s",
		"engine.fetch_timeout":   "300s",
		"engine.poll_interval":   "3s",
		"engine.poll_timeout":    "300s",
		"engine.use_websocket":   false,

		"workflow.template":      "workflows/img2img.json",
		"workflow.templates_dir": "workflows",
		"workflow.image_node":    "10",
		"workflow.prompt_node":   "6",
		"workflow.sampler_class": "KSampler",

		"preview.provider":        "gemini",
		"preview.model":           "gemini-2.0-flash",
		"preview.max_attempts":    3,
		"preview.request_timeout": "60s",
		"preview.rate_per_second": 0,
		"preview.burst":           1,
		"preview.temperature":     0,
		"preview.max_tokens":      0,

		"server.host": "0.0.0.0",
		"server.port": 8080,

		"storage.dir":     "./data",
		"storage.backend": "local",

		"jobs.max_concurrent": 2,

		"logging.level":  "info",
		"logging.format": "console",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
}
