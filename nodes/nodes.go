// Package nodes links every preview provider into the plugin registry.
package nodes

import (
	_ "github.com/Tsinling0525/rivulet-gen/nodes/gemini"
	_ "github.com/Tsinling0525/rivulet-gen/nodes/ollama"
	_ "github.com/Tsinling0525/rivulet-gen/nodes/openai"
)
