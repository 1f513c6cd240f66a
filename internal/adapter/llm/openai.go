package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/infra/tracer"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

var errNoChoices = errors.New("response has no choices")

// OpenAIProvider implements domain.LLMProvider for any OpenAI-compatible
// chat-completions API, including image_url content parts.
type OpenAIProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIProvider{
		name:    name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var out completion
	if err := json.Unmarshal(respBody, &out); err != nil {
		err = &domain.RemoteModelError{Err: fmt.Errorf("unmarshal response: %w", err)}
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(out.Choices) == 0 {
		err := &domain.RemoteModelError{Err: errNoChoices}
		tracer.RecordError(span, err)
		return nil, err
	}

	result := out.chatResponse()
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// Chat-completions wire format. Only the fields the vision call needs are
// modelled.

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// wireMessage.Content holds a string, or []wirePart for multimodal input.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wirePart struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *wireImage `json:"image_url,omitempty"`
}

type wireImage struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type completion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage domain.Usage `json:"usage"`
}

func toOpenAIRequest(req domain.ChatRequest) completionRequest {
	out := completionRequest{
		Model:     req.Model,
		Messages:  make([]wireMessage, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}
	for i, m := range req.Messages {
		out.Messages[i] = wireMessage{Role: m.Role, Content: m.Content}
		if len(m.Parts) == 0 {
			continue
		}
		parts := make([]wirePart, len(m.Parts))
		for j, p := range m.Parts {
			if p.Type == domain.PartImageURL {
				parts[j] = wirePart{Type: p.Type, ImageURL: &wireImage{URL: p.ImageURL, Detail: p.Detail}}
			} else {
				parts[j] = wirePart{Type: domain.PartText, Text: p.Text}
			}
		}
		out.Messages[i].Content = parts
	}
	if t := req.Temperature; t != 0 {
		out.Temperature = &t
	}
	return out
}

// chatResponse converts the first choice. Callers check for an empty
// choice list first.
func (c *completion) chatResponse() *domain.ChatResponse {
	created := time.Unix(c.Created, 0)
	choice := c.Choices[0].Message
	return &domain.ChatResponse{
		ID:        c.ID,
		Model:     c.Model,
		Usage:     c.Usage,
		CreatedAt: created,
		Message: domain.Message{
			Role:      choice.Role,
			Content:   choice.Content,
			Timestamp: created,
		},
	}
}
