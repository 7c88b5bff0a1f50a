package types

type Source string

const (
	SourceBackend   Source = "backend"
	SourceHeuristic Source = "heuristic"
)

// AnalysisResult is the normalized verdict produced for every classification.
type AnalysisResult struct {
	Status             Status        `json:"status"`
	Confidence         float64       `json:"confidence"`
	Reason             string        `json:"reason"`
	ResponseTimeMs     int64         `json:"responseTimeMs"`
	RawBackendResponse string        `json:"rawBackendResponse,omitempty"`
	ModelUsed          string        `json:"modelUsed"`
	Backend            string        `json:"backend,omitempty"`
	Source             Source        `json:"source"`
	Settings           ModelSettings `json:"settings"`
}
