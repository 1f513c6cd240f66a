package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"snapsight/internal/adapter/gateway"
	"snapsight/internal/adapter/llm"
	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/usecase/vision"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if addr != "" {
				a.cfg.Proxy.Addr = addr
			}
			return runServe(cmd.Context(), a.cfg, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides proxy.addr)")
	return cmd
}

// buildVisionProvider returns the OpenAI-compatible provider, wrapped in a
// circuit breaker when enabled. state is nil without a breaker.
func buildVisionProvider(cfg config.VisionConfig, logger *slog.Logger) (domain.LLMProvider, func() float64) {
	var provider domain.LLMProvider = llm.NewOpenAIProvider(cfg.Provider, logger)
	if !cfg.CircuitBreaker.Enabled {
		return provider, nil
	}
	cb := llm.NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, logger)
	return cb, func() float64 { return float64(cb.State()) }
}

// useTempDir points os.TempDir, where the multipart parser spills large
// uploads, at dir and returns the directory in effect. An empty dir keeps
// the process default.
func useTempDir(dir string) (string, error) {
	if dir == "" {
		return os.TempDir(), nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	if err := os.Setenv("TMPDIR", dir); err != nil {
		return "", fmt.Errorf("set TMPDIR: %w", err)
	}
	return os.TempDir(), nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Vision.Provider.APIKey == "" {
		return fmt.Errorf("vision API key is not set (vision.provider.api_key, SNAPSIGHT_VISION_API_KEY or OPENAI_API_KEY)")
	}
	spillDir, err := useTempDir(cfg.Proxy.TempDir)
	if err != nil {
		return err
	}
	logger.Info("multipart spill directory", "dir", spillDir)

	provider, breakerState := buildVisionProvider(cfg.Vision, logger)
	svc := vision.NewService(provider, cfg.Vision, logger)

	handler, err := gateway.NewHandler(svc, cfg.Proxy, gateway.NewMetrics(breakerState), logger)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}
	srv := gateway.NewServer(cfg.Proxy, handler, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("snapsight proxy ready",
		"addr", srv.BoundAddr(),
		"provider", provider.Name(),
		"model", cfg.Vision.Provider.Model,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}
