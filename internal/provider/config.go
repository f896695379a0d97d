package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Provider configuration is a closed tagged union: each vendor has an
// explicit record type and unknown kinds or keys are rejected at the
// boundary instead of being passed through untyped.

const (
	KindRunway = "runway"
	KindVeo    = "veo"
)

type RunwayConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"` // empty = production API
	Model   string `json:"model,omitempty"`
}

type VeoConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"`
}

// Config is the decoded provider selection.
type Config struct {
	Kind   string
	Runway *RunwayConfig
	Veo    *VeoConfig
}

type rawConfig struct {
	Kind   string          `json:"kind"`
	Runway json.RawMessage `json:"runway,omitempty"`
	Veo    json.RawMessage `json:"veo,omitempty"`
}

// ParseConfig decodes a provider config blob strictly.
func ParseConfig(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	cfg := &Config{Kind: raw.Kind}

	switch raw.Kind {
	case KindRunway:
		if raw.Runway == nil {
			return nil, fmt.Errorf("provider config: missing %q section", KindRunway)
		}
		var rc RunwayConfig
		if err := decodeStrict(raw.Runway, &rc); err != nil {
			return nil, fmt.Errorf("invalid runway config: %w", err)
		}
		if rc.APIKey == "" {
			return nil, fmt.Errorf("runway config: api_key is required")
		}
		cfg.Runway = &rc

	case KindVeo:
		if raw.Veo == nil {
			return nil, fmt.Errorf("provider config: missing %q section", KindVeo)
		}
		var vc VeoConfig
		if err := decodeStrict(raw.Veo, &vc); err != nil {
			return nil, fmt.Errorf("invalid veo config: %w", err)
		}
		if vc.APIKey == "" {
			return nil, fmt.Errorf("veo config: api_key is required")
		}
		cfg.Veo = &vc

	default:
		return nil, fmt.Errorf("unknown provider kind %q", raw.Kind)
	}

	return cfg, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// New builds the concrete adapter for a parsed config.
func New(cfg *Config) (Provider, error) {
	switch cfg.Kind {
	case KindRunway:
		return NewRunway(cfg.Runway.APIKey, cfg.Runway.BaseURL, cfg.Runway.Model), nil
	case KindVeo:
		return NewVeo(cfg.Veo.APIKey, cfg.Veo.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
