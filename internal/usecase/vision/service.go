package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/infra/tracer"
)

// Defaults applied when the config leaves them unset.
const (
	DefaultMaxTokens = 300
	DefaultTimeout   = 60 * time.Second
)

// Service describes a single image through a chat-completion provider.
type Service struct {
	provider  domain.LLMProvider
	model     string
	prompt    string
	maxTokens int
	detail    string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(provider domain.LLMProvider, cfg config.VisionConfig, logger *slog.Logger) *Service {
	s := &Service{
		provider:  provider,
		model:     cfg.Provider.Model,
		prompt:    cfg.Prompt,
		maxTokens: cfg.MaxTokens,
		detail:    cfg.Detail,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
	if s.prompt == "" {
		s.prompt = config.DefaultPrompt
	}
	if s.maxTokens <= 0 {
		s.maxTokens = DefaultMaxTokens
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s
}

// Describe sends imageRef (a data URL or https URL) with the fixed prompt
// and wraps the model's reply in the analysis envelope.
func (s *Service) Describe(ctx context.Context, imageRef string) (*domain.AnalysisResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "vision.describe",
		trace.WithAttributes(
			tracer.StringAttr("vision.provider", s.provider.Name()),
			tracer.IntAttr("vision.image_ref_bytes", len(imageRef)),
		),
	)
	defer span.End()

	image := domain.ImagePart(imageRef)
	image.Detail = s.detail

	req := domain.ChatRequest{
		Model: s.model,
		Messages: []domain.Message{{
			Role:      domain.RoleUser,
			Parts:     []domain.ContentPart{domain.TextPart(s.prompt), image},
			Timestamp: time.Now(),
		}},
		MaxTokens: s.maxTokens,
	}

	start := time.Now()
	resp, err := s.provider.Chat(ctx, req)
	if err != nil {
		err = remoteError(err)
		tracer.RecordError(span, err)
		s.logger.Warn("vision call failed",
			"provider", s.provider.Name(),
			"code", domain.ErrorCodeOf(err),
			"duration", time.Since(start),
		)
		return nil, err
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		err := domain.NewSubSystemError("vision", "Service.Describe", domain.ErrRemoteModel, "unexpected response shape: empty content")
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	s.logger.Info("image described",
		"provider", s.provider.Name(),
		"model", resp.Model,
		"usage_total", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	return domain.NewTextAnalysis(content), nil
}

// remoteError makes sure every provider failure matches ErrRemoteModel and
// that deadlines also match ErrTimeout.
func remoteError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return &domain.RemoteModelError{Err: fmt.Errorf("%w: %v", domain.ErrTimeout, err)}
	}
	if errors.Is(err, domain.ErrRemoteModel) {
		return err
	}
	return &domain.RemoteModelError{Err: err}
}
