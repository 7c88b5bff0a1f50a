package types

type ModelVersion string

const (
	ModelPrimary   ModelVersion = "primary"
	ModelSecondary ModelVersion = "secondary"
)

const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2048
)

// AnalysisRequest is the body accepted by the predict endpoint. Generation
// settings come from the caller's stored profile, not from the body.
type AnalysisRequest struct {
	Message *string `json:"message"`
}

// ModelSettings are the per-user generation parameters. They only change
// backend call parameters, never the classification control flow.
type ModelSettings struct {
	ModelVersion ModelVersion `json:"modelVersion" validate:"omitempty,oneof=primary secondary"`
	Temperature  float64      `json:"temperature" validate:"gte=0,lte=1"`
	MaxTokens    int          `json:"maxTokens" validate:"gte=1,lte=8192"`
}

func DefaultModelSettings() ModelSettings {
	return ModelSettings{
		ModelVersion: ModelPrimary,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
	}
}

// WithDefaults returns the effective settings. A nil receiver yields the
// defaults. Otherwise the temperature is used as given, 0 included, and
// only values outside the accepted ranges fall back to the defaults.
func (s *ModelSettings) WithDefaults() ModelSettings {
	out := DefaultModelSettings()
	if s == nil {
		return out
	}
	if s.ModelVersion != "" {
		out.ModelVersion = s.ModelVersion
	}
	if s.Temperature >= 0 && s.Temperature <= 1 {
		out.Temperature = s.Temperature
	}
	if s.MaxTokens > 0 {
		out.MaxTokens = s.MaxTokens
	}
	return out
}

// SettingsInput is a settings document as submitted by a client, where any
// field may be absent.
type SettingsInput struct {
	ModelVersion *ModelVersion `json:"modelVersion"`
	Temperature  *float64      `json:"temperature"`
	MaxTokens    *int          `json:"maxTokens"`
}

// Resolve fills absent fields from the defaults. Present values are kept
// verbatim so that validation sees what the client sent.
func (in SettingsInput) Resolve() ModelSettings {
	out := DefaultModelSettings()
	if in.ModelVersion != nil {
		out.ModelVersion = *in.ModelVersion
	}
	if in.Temperature != nil {
		out.Temperature = *in.Temperature
	}
	if in.MaxTokens != nil {
		out.MaxTokens = *in.MaxTokens
	}
	return out
}
