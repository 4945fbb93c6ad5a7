package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbright/posvoice/internal/config"
	"github.com/stretchr/testify/require"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "sk-test")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.HasPrefix(v, "sk-") },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckBridgeHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bridge/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Bridge.BaseURL = server.URL + "/"

	check := checkBridge(context.Background(), cfg)
	require.True(t, check.Pass)
	require.Equal(t, "healthy at "+server.URL, check.Message)
}

func TestCheckBridgeFailureStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Bridge.BaseURL = server.URL

	check := checkBridge(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 503")
}

func TestCheckBridgeEmptyBaseURL(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.BaseURL = " "

	check := checkBridge(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "bridge.base_url is empty")
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(context.Background(), config.Default())
	require.False(t, check.Pass)
	require.Contains(t, check.Name, "audio.device")
}

func findCheck(report Report, name string) (Check, bool) {
	for _, check := range report.Checks {
		if check.Name == name {
			return check, true
		}
	}
	return Check{}, false
}

func TestRunRequiresOpenAIKeyOnlyForOpenAIBackend(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := config.Default()
	cfg.Bridge.BaseURL = ""

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	_, sawKey := findCheck(report, "OPENAI_API_KEY")
	require.False(t, sawKey)

	cfg.Planner.Backend = "openai"
	report = Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	check, sawKey := findCheck(report, "OPENAI_API_KEY")
	require.True(t, sawKey)
	require.False(t, check.Pass)
	require.False(t, report.OK())
}

func TestRunChecksPwPlayForCustomCueFiles(t *testing.T) {
	binDir := t.TempDir()
	fake := filepath.Join(binDir, "pw-play")
	require.NoError(t, os.WriteFile(fake, []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", binDir+":"+os.Getenv("PATH"))
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	cfg := config.Default()
	cfg.Bridge.BaseURL = ""
	cfg.Indicator.SoundStartFile = "~/cues/start.wav"

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg, Exists: true})
	check, ok := findCheck(report, "pw-play")
	require.True(t, ok)
	require.True(t, check.Pass)

	first := report.Checks[0]
	require.Equal(t, "config", first.Name)
	require.Contains(t, first.Message, "loaded")
}
