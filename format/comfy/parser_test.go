package comfy

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Tsinling0525/rivulet-gen/model"
)

const img2img = `{
  "3": {
    "inputs": {"seed": 156680208700286, "steps": 20, "cfg": 8, "model": ["4", 0], "positive": ["6", 0]},
    "class_type": "KSampler",
    "_meta": {"title": "KSampler"}
  },
  "4": {"inputs": {"ckpt_name": "v1-5-pruned.safetensors"}, "class_type": "CheckpointLoaderSimple"},
  "6": {"inputs": {"prompt": "a cat", "clip": ["4", 1]}, "class_type": "CLIPTextEncode", "widgets": [1, 2]},
  "10": {"inputs": {"image": "example.png", "upload": "image"}, "class_type": "LoadImage"}
}`

func TestParseWorkflow(t *testing.T) {
	g, err := Parse([]byte(img2img), "img2img.json")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if g.Len() != 4 {
		t.Errorf("Expected 4 nodes, got %d", g.Len())
	}

	wantOrder := []model.ID{"3", "4", "6", "10"}
	for i, id := range wantOrder {
		if g.Order[i] != id {
			t.Errorf("Expected node %d to be '%s', got '%s'", i, id, g.Order[i])
		}
	}

	sampler, ok := g.Node("3")
	if !ok {
		t.Fatalf("Expected node 3 to exist")
	}
	if sampler.ClassType != "KSampler" {
		t.Errorf("Expected class_type 'KSampler', got '%s'", sampler.ClassType)
	}
	if sampler.Title() != "KSampler" {
		t.Errorf("Expected title 'KSampler', got '%s'", sampler.Title())
	}

	seed, ok := sampler.Inputs["seed"].(json.Number)
	if !ok || seed.String() != "156680208700286" {
		t.Errorf("Expected seed to keep its exact digits, got '%v'", sampler.Inputs["seed"])
	}

	if g.Path != "img2img.json" {
		t.Errorf("Expected path 'img2img.json', got '%s'", g.Path)
	}
}

func TestRoundTripKeepsUnknownKeys(t *testing.T) {
	g, err := Parse([]byte(img2img), "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	out, err := Marshal(g)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	again, err := Parse(out, "")
	if err != nil {
		t.Fatalf("Expected re-parse to succeed, got %v", err)
	}
	if !strings.Contains(string(out), `"widgets"`) {
		t.Errorf("Expected unknown key 'widgets' to be preserved, got %s", out)
	}
	if !strings.Contains(string(out), "156680208700286") {
		t.Errorf("Expected seed digits to be preserved, got %s", out)
	}
	if again.Order[0] != "3" || again.Order[3] != "10" {
		t.Errorf("Expected node order to survive, got %v", again.Order)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `{"3": `},
		{"array document", `[1, 2]`},
		{"empty", `{}`},
		{"node not object", `{"1": "x"}`},
		{"missing class_type", `{"1": {"inputs": {}}}`},
		{"class_type not string", `{"1": {"class_type": 5}}`},
		{"inputs not object", `{"1": {"class_type": "A", "inputs": [1]}}`},
		{"duplicate node", `{"1": {"class_type": "A"}, "1": {"class_type": "B"}}`},
		{"ui format", `{"nodes": [], "links": []}`},
		{"trailing data", `{"1": {"class_type": "A"}} {}`},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.doc), "bad.json")
		var perr *model.ParseError
		if !errors.As(err, &perr) {
			t.Errorf("%s: Expected *model.ParseError, got %v", tc.name, err)
			continue
		}
		if perr.Path != "bad.json" {
			t.Errorf("%s: Expected path 'bad.json', got '%s'", tc.name, perr.Path)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.json")
	if err := os.WriteFile(path, []byte(img2img), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id, ok := g.FindNodeByClassName("LoadImage"); !ok || id != "10" {
		t.Errorf("Expected LoadImage at node '10', got '%s'", id)
	}

	_, err = Load(filepath.Join(dir, "missing.json"))
	var perr *model.ParseError
	if !errors.As(err, &perr) {
		t.Errorf("Expected *model.ParseError for a missing file, got %v", err)
	}
}
