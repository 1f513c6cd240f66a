package domain

import "context"

// LLMProvider is the interface for a chat-completion backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "groq").
	Name() string
}

// Analyzer turns a captured frame into an analysis result. The upload client
// implements it against the analysis proxy.
type Analyzer interface {
	Analyze(ctx context.Context, capture *CaptureResult) (*AnalysisResponse, error)
}
