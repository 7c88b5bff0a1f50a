package config

// ModelsConfig maps the externally visible model versions ("primary",
// "secondary") onto backend routes.
type ModelsConfig struct {
	DefaultVersion string                  `yaml:"default_version"`
	Versions       map[string]ModelMapping `yaml:"versions"`
}

type ModelMapping struct {
	DisplayName string         `yaml:"display_name"`
	Primary     BackendRoute   `yaml:"primary"`
	Fallback    []BackendRoute `yaml:"fallback"`
}

type BackendRoute struct {
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
}

// DefaultModels mirrors the stock local deployment.
func DefaultModels() *ModelsConfig {
	return &ModelsConfig{
		DefaultVersion: "primary",
		Versions: map[string]ModelMapping{
			"primary": {
				DisplayName: "Llama 3.2",
				Primary:     BackendRoute{Backend: "local", Model: "llama3.2"},
			},
			"secondary": {
				DisplayName: "DeepSeek R1 7B",
				Primary:     BackendRoute{Backend: "local", Model: "deepseek-r1:7b"},
			},
		},
	}
}

// Lookup returns the mapping for version, falling back to the default
// version for unknown or empty values.
func (m *ModelsConfig) Lookup(version string) (string, ModelMapping, bool) {
	if mapping, ok := m.Versions[version]; ok {
		return version, mapping, true
	}
	def := m.DefaultVersion
	if def == "" {
		def = "primary"
	}
	mapping, ok := m.Versions[def]
	return def, mapping, ok
}
