package plugin

import (
	"context"
	"testing"
)

type stub struct{}

func (stub) Init(context.Context, Config, Deps) error { return nil }
func (stub) Preview(context.Context, Request) (*Response, error) {
	return &Response{Text: "ok"}, nil
}

func TestRegistry(t *testing.T) {
	Register("stub", func() Provider { return stub{} })

	p, ok := New("stub")
	if !ok {
		t.Fatalf("Expected provider 'stub' to be registered")
	}
	resp, err := p.Preview(context.Background(), Request{})
	if err != nil || resp.Text != "ok" {
		t.Errorf("Expected 'ok', got %v, %v", resp, err)
	}

	if _, ok := New("missing"); ok {
		t.Errorf("Expected unknown provider to be absent")
	}

	found := false
	for _, n := range Names() {
		if n == "stub" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected Names to include 'stub', got %v", Names())
	}
}
