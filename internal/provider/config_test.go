package provider

import (
	"testing"
)

func TestParseConfigRunway(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"kind":"runway","runway":{"api_key":"rw_123","model":"gen4_turbo"}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Kind != KindRunway {
		t.Errorf("expected runway kind, got %s", cfg.Kind)
	}
	if cfg.Runway == nil || cfg.Runway.APIKey != "rw_123" {
		t.Errorf("runway section not decoded: %+v", cfg.Runway)
	}
	if cfg.Veo != nil {
		t.Error("veo section should be nil for runway config")
	}
}

func TestParseConfigVeo(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"kind":"veo","veo":{"api_key":"gm_123"}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Veo == nil || cfg.Veo.APIKey != "gm_123" {
		t.Errorf("veo section not decoded: %+v", cfg.Veo)
	}
}

func TestParseConfigRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{"unknown kind", `{"kind":"sora","sora":{"api_key":"x"}}`},
		{"unknown top-level key", `{"kind":"runway","runway":{"api_key":"x"},"extra":true}`},
		{"unknown vendor key", `{"kind":"runway","runway":{"api_key":"x","region":"us"}}`},
		{"missing section", `{"kind":"runway"}`},
		{"missing api key", `{"kind":"veo","veo":{"model":"veo-3.1"}}`},
		{"not json", `kind=runway`},
	}

	for _, tc := range cases {
		if _, err := ParseConfig([]byte(tc.blob)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestNewBuildsAdapter(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"kind":"runway","runway":{"api_key":"rw_123"}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if p.Name() != KindRunway {
		t.Errorf("expected runway adapter, got %s", p.Name())
	}
}
