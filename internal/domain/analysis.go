package domain

import (
	"encoding/json"
	"fmt"
)

// Analysis envelope constants.
const (
	AnalysisVersion = "1.0"
	ModalityText    = "text"
	FormatPlainText = "plain_text"
	NoAnalysisText  = "No analysis text returned"
	DefaultPrimary  = ModalityText
)

// Modality is one output channel of an analysis result.
type Modality struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

// AnalysisResponse is the normalized result of one frame analysis.
// Text and Result mirror Modalities[Primary].Content for older clients; build
// values with NewTextAnalysis so the three never diverge.
type AnalysisResponse struct {
	Version    string              `json:"version"`
	Modalities map[string]Modality `json:"modalities"`
	Primary    string              `json:"primary"`
	Text       string              `json:"text"`
	Result     string              `json:"result"`
}

// NewTextAnalysis builds an envelope whose primary modality is plain text.
func NewTextAnalysis(content string) *AnalysisResponse {
	return &AnalysisResponse{
		Version: AnalysisVersion,
		Modalities: map[string]Modality{
			ModalityText: {Content: content, Format: FormatPlainText},
		},
		Primary: ModalityText,
		Text:    content,
		Result:  content,
	}
}

// PrimaryText returns the content of the primary modality.
func (a *AnalysisResponse) PrimaryText() string {
	if a == nil {
		return ""
	}
	return a.Modalities[a.Primary].Content
}

// NormalizeAnalysis decodes a proxy response body of either the versioned
// envelope or the legacy {text}/{result} shape. Text is chosen in order:
// modalities[primary].content, text, result, then NoAnalysisText. Only
// undecodable JSON is an error.
func NormalizeAnalysis(body []byte) (*AnalysisResponse, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: malformed response JSON: %v", ErrUpload, err)
	}
	obj, _ := v.(map[string]any)

	resp := NewTextAnalysis(ExtractAnalysisText(obj))
	if ver, ok := obj["version"].(string); ok && ver != "" {
		resp.Version = ver
	}
	// Keep any additional modalities the server sent alongside text.
	if mods, ok := obj["modalities"].(map[string]any); ok {
		for key, raw := range mods {
			if key == ModalityText {
				continue
			}
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			content, _ := m["content"].(string)
			format, _ := m["format"].(string)
			resp.Modalities[key] = Modality{Content: content, Format: format}
		}
	}
	return resp, nil
}

// ExtractAnalysisText applies the text fallback chain to a decoded object.
func ExtractAnalysisText(obj map[string]any) string {
	if obj == nil {
		return NoAnalysisText
	}
	primary, _ := obj["primary"].(string)
	if primary == "" {
		primary = DefaultPrimary
	}
	if mods, ok := obj["modalities"].(map[string]any); ok {
		if m, ok := mods[primary].(map[string]any); ok {
			if s, ok := m["content"].(string); ok && s != "" {
				return s
			}
		}
	}
	if s, ok := obj["text"].(string); ok && s != "" {
		return s
	}
	if s, ok := obj["result"].(string); ok && s != "" {
		return s
	}
	return NoAnalysisText
}

// ErrorBody is the JSON body of a failed proxy response. Details carries the
// vision provider's error body as sent when it is JSON, otherwise a string.
type ErrorBody struct {
	Error   string          `json:"error"`
	Code    ErrorCode       `json:"code,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}
