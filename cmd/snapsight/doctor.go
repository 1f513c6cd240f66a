package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snapsight/internal/infra/config"
)

type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult is what a doctor check reports. Fix is printed under a
// non-passing line when set.
type CheckResult struct {
	Status  CheckStatus
	Message string
	Fix     string
}

type Check struct {
	Name string
	Fn   func(*config.Config) CheckResult
}

func passed(format string, args ...any) CheckResult {
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf(format, args...)}
}

func failed(fix, format string, args ...any) CheckResult {
	return CheckResult{Status: StatusFail, Message: fmt.Sprintf(format, args...), Fix: fix}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run health checks on config, proxy and vision provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Some checks work without a loadable config.
			cfg, cfgErr := config.Load(cfgPath)
			return runDoctor(cmd.OutOrStdout(), []Check{
				{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
				{Name: "Vision API key", Fn: checkVisionAPIKey},
				{Name: "Vision endpoint", Fn: checkVisionEndpoint},
				{Name: "Analysis proxy", Fn: checkProxy},
				{Name: "Temp dir", Fn: checkTempDir},
			}, cfg)
		},
	}
}

// runDoctor prints one line per check and fails if any check failed.
func runDoctor(w io.Writer, checks []Check, cfg *config.Config) error {
	fmt.Fprintf(w, "snapsight doctor\n%s\n\n", strings.Repeat("=", 50))

	tally := map[CheckStatus]int{}
	for _, c := range checks {
		r := c.Fn(cfg)
		tally[r.Status]++
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(r.Status), c.Name, r.Message)
		if r.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", r.Fix)
		}
	}

	fmt.Fprintf(w, "\n%s\nResults: %d passed, %d warnings, %d failed\n",
		strings.Repeat("-", 50), tally[StatusPass], tally[StatusWarn], tally[StatusFail])
	if n := tally[StatusFail]; n > 0 {
		return fmt.Errorf("%d check(s) failed", n)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	if s != StatusPass && s != StatusWarn && s != StatusFail {
		return "[????]"
	}
	return "[" + string(s) + "]"
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile passes when the file parsed. A missing file only warns,
// defaults plus environment are enough to run.
func checkConfigFile(path string, cfgErr error) func(*config.Config) CheckResult {
	return func(*config.Config) CheckResult {
		if cfgErr != nil {
			return failed("Check config.yaml syntax and values", "config error: %v", cfgErr)
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Status: StatusWarn, Message: "no config file at " + path + ", using defaults and environment"}
		}
		return passed("config loaded from %s", path)
	}
}

// checkVisionAPIKey never prints the key.
func checkVisionAPIKey(cfg *config.Config) CheckResult {
	switch {
	case cfg == nil:
		return notLoaded
	case cfg.Vision.Provider.APIKey == "":
		return failed("Set SNAPSIGHT_VISION_API_KEY or OPENAI_API_KEY", "no vision API key configured")
	}
	return passed("API key configured for %s", cfg.Vision.Provider.Name)
}

func checkVisionEndpoint(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	return probe(strings.TrimRight(cfg.Vision.Provider.BaseURL, "/")+"/models",
		"Check your internet connection and vision.provider.base_url")
}

// checkProxy downgrades an unreachable proxy to a warning; snap can still
// be pointed elsewhere with --proxy.
func checkProxy(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	r := probe(strings.TrimRight(cfg.Client.ProxyURL, "/")+"/healthz", "Start the proxy with 'snapsight serve'")
	if r.Status == StatusFail {
		r.Status = StatusWarn
	}
	return r
}

func checkTempDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	dir := cfg.Proxy.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, ".snapsight-doctor-*")
	if err != nil {
		return failed("Fix permissions or set proxy.temp_dir", "%s is not writable: %v", dir, err)
	}
	f.Close()
	_ = os.Remove(f.Name())
	return passed("upload spill directory %s writable", dir)
}

// probe passes on any HTTP answer, whatever the status code.
func probe(url, fix string) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failed("", "invalid URL %s: %v", url, err)
	}
	began := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return failed(fix, "cannot reach %s: %v", url, err)
	}
	resp.Body.Close()
	return passed("%s reachable (HTTP %d, %s)", url, resp.StatusCode, time.Since(began).Round(time.Millisecond))
}
