// Package doctor runs readiness diagnostics for config, audio, the bridge, and planner credentials.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/posvoice/internal/audio"
	"github.com/rbright/posvoice/internal/bridge"
	"github.com/rbright/posvoice/internal/config"
)

const bridgeCheckTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "control socket directory is set", "XDG_RUNTIME_DIR is empty; press/release cannot reach the daemon"))

	if cfg.Config.Planner.Backend == "openai" {
		checks = append(checks, checkEnv("OPENAI_API_KEY", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "planner credential present", "planner.backend is openai but OPENAI_API_KEY is empty"))
	}

	if ind := cfg.Config.Indicator; ind.SoundEnable && (ind.SoundStartFile != "" || ind.SoundStopFile != "" || ind.SoundCancelFile != "") {
		checks = append(checks, checkBinary("pw-play", "custom cue files play through pw-play"))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkBridge(ctx, cfg.Config))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkBridge calls the bridge health endpoint.
func checkBridge(ctx context.Context, cfg config.Config) Check {
	base := strings.TrimSpace(cfg.Bridge.BaseURL)
	if base == "" {
		return Check{Name: "bridge.health", Pass: false, Message: "bridge.base_url is empty"}
	}

	client := bridge.New(base, bridgeCheckTimeout, nil)
	if err := client.Health(ctx); err != nil {
		return Check{Name: "bridge.health", Pass: false, Message: err.Error()}
	}
	return Check{Name: "bridge.health", Pass: true, Message: fmt.Sprintf("healthy at %s", client.BaseURL())}
}
