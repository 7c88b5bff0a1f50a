package config

import "time"

type BackendsConfig struct {
	Backends map[string]BackendConfig `yaml:"backends"`
}

type BackendConfig struct {
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

func DefaultBackends() *BackendsConfig {
	return &BackendsConfig{
		Backends: map[string]BackendConfig{
			"local": {
				Type:          "ollama",
				BaseURL:       "http://localhost:11434",
				MaxConcurrent: 16,
				Timeout:       30 * time.Second,
			},
		},
	}
}
