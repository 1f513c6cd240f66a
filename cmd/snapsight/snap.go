package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"snapsight/internal/adapter/camera"
	"snapsight/internal/adapter/upload"
	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/usecase/capture"
	"snapsight/internal/usecase/preview"
)

// clientFlags are shared by snap and watch.
type clientFlags struct {
	image     string
	facing    string
	proxyURL  string
	transport string
	raw       bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.image, "image", "", "still image the virtual camera presents (default: generated test card)")
	cmd.Flags().StringVar(&f.facing, "facing", "", "camera to open: rear or front (default: camera.default_facing)")
	cmd.Flags().StringVar(&f.proxyURL, "proxy", "", "analysis proxy base URL (overrides client.proxy_url)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "upload transport: multipart or json (overrides client.transport)")
	cmd.Flags().BoolVar(&f.raw, "json", false, "print the analysis envelope as JSON")
}

func (f *clientFlags) apply(cfg *config.Config) {
	if f.proxyURL != "" {
		cfg.Client.ProxyURL = f.proxyURL
	}
	if f.transport != "" {
		cfg.Client.Transport = f.transport
	}
}

// buildController wires a virtual camera, the capturer and the upload
// client behind a preview controller and opens the camera.
func buildController(ctx context.Context, cfg *config.Config, f *clientFlags, logger *slog.Logger) (*preview.Controller, error) {
	facingName := f.facing
	if facingName == "" {
		facingName = cfg.Camera.DefaultFacing
	}
	facing, err := domain.ParseFacingMode(facingName)
	if err != nil {
		return nil, err
	}

	var src camera.FrameSource = camera.NewScene(1280, 720, color.RGBA{R: 255, G: 255, B: 180, A: 255})
	if f.image != "" {
		still, err := camera.LoadStill(f.image)
		if err != nil {
			return nil, err
		}
		src = still
	}

	devices := camera.NewVirtualDevices(camera.DefaultCameras(src, src), camera.WithVirtualLogger(logger))
	ctrl := preview.NewController(
		camera.NewAcquirer(devices, cfg.Camera, logger),
		capture.NewCapturer(cfg.Capture, logger),
		upload.NewClient(cfg.Client, logger),
		camera.NewVideoElement(),
		cfg.Client.Overlap,
		logger,
		preview.WithStatusListener(func(st preview.Status) {
			logger.Debug("status", "state", st.State, "message", st.Message, "live", st.Live)
		}),
	)
	if err := ctrl.Start(ctx, facing); err != nil {
		return nil, err
	}
	return ctrl, nil
}

func newSnapCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Capture one frame and print its description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			f.apply(a.cfg)

			ctrl, err := buildController(cmd.Context(), a.cfg, &f, a.logger)
			if err != nil {
				return err
			}
			defer ctrl.Stop()

			analysis, err := ctrl.Snap(cmd.Context())
			if err != nil {
				st := ctrl.Status()
				return fmt.Errorf("%s: %w", st.Message, err)
			}
			return printAnalysis(cmd.OutOrStdout(), analysis, f.raw)
		},
	}
	f.register(cmd)
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		f     clientFlags
		every string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Capture and describe frames on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			f.apply(a.cfg)

			ctrl, err := buildController(ctx, a.cfg, &f, a.logger)
			if err != nil {
				return err
			}
			defer ctrl.Stop()

			out := cmd.OutOrStdout()
			auto, err := preview.NewAutoCapture(ctrl, every, func(analysis *domain.AnalysisResponse, err error) {
				if err != nil {
					msg, _ := preview.StatusMessage(err)
					fmt.Fprintf(out, "! %s\n", msg)
					return
				}
				if err := printAnalysis(out, analysis, f.raw); err != nil {
					a.logger.Warn("render failed", "error", err)
				}
			}, a.logger)
			if err != nil {
				return err
			}

			auto.Start(ctx)
			<-ctx.Done()
			auto.Stop()
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&every, "every", "30s", "schedule: a duration or a cron expression")
	return cmd
}

// printAnalysis writes the primary text rendered as terminal markdown, or
// the raw envelope as JSON.
func printAnalysis(w io.Writer, analysis *domain.AnalysisResponse, raw bool) error {
	if raw {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}

	text := strings.TrimSpace(analysis.PrimaryText())
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		_, err = fmt.Fprintln(w, text)
		return err
	}
	rendered, err := r.Render(text)
	if err != nil {
		_, err = fmt.Fprintln(w, text)
		return err
	}
	_, err = io.WriteString(w, rendered)
	return err
}
