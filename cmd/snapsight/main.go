package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"snapsight/internal/infra/config"
	"snapsight/internal/infra/logger"
	"snapsight/internal/infra/tracer"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var cfgPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "snapsight",
		Short:         "Camera capture and vision analysis proxy",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file path (env: SNAPSIGHT_CONFIG)")

	root.AddCommand(
		newServeCmd(),
		newSnapCmd(),
		newWatchCmd(),
		newDoctorCmd(),
		newEncryptSecretCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "snapsight: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SNAPSIGHT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// app holds what every long-running command needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	close  func()
}

// bootstrap loads config, builds the logger and installs the tracer.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("setup tracer: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: log,
		close: func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
			closeLog()
		},
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
