package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two",
  ],
  "nested": {
    "enabled": true,
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.NotContains(t, normalized, ",]")
	require.NotContains(t, normalized, ",}")
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, "// and /* comment-like */")
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8) // line2, col2
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = offsetToLineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestJSONCStringListUnmarshal(t *testing.T) {
	var list jsoncStringList
	require.NoError(t, list.UnmarshalJSON([]byte(`["a","b"]`)))
	require.Equal(t, []string{"a", "b"}, []string(list))

	require.NoError(t, list.UnmarshalJSON([]byte(`"a, b, , c"`)))
	require.Equal(t, []string{"a", "b", "c"}, []string(list))

	err := list.UnmarshalJSON([]byte(`123`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected string array")
}

func TestParseJSONCOverridesSections(t *testing.T) {
	cfg, warnings, err := parseJSONC(`{
  // bridge running on the counter machine
  "bridge": {"base_url": " http://10.0.0.5:8000 ", "timeout_ms": 5000},
  "realtime": {"language": "es", "vad_threshold": 0.5, "silence_ms": 700},
  "planner": {"backend": " OpenAI ", "model": "gpt-4o-mini"},
  "turn": {"max_turn_ms": 15000},
  "dispatch": {"max_results": 10, "refresh_prices": true,},
  "log": {"level": "DEBUG"},
}`, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "http://10.0.0.5:8000", cfg.Bridge.BaseURL)
	require.Equal(t, 5000, cfg.Bridge.TimeoutMS)
	require.InDelta(t, 0.5, cfg.Realtime.VADThreshold, 1e-9)
	require.Equal(t, 700, cfg.Realtime.SilenceMS)
	require.Equal(t, "openai", cfg.Planner.Backend)
	require.Equal(t, 15000, cfg.Turn.MaxTurnMS)
	require.Equal(t, 10, cfg.Dispatch.MaxResults)
	require.True(t, cfg.Dispatch.RefreshPrices)
	require.Equal(t, "debug", cfg.Log.Level)

	// untouched sections keep defaults
	require.Equal(t, Default().Dispatch.AddDebounceMS, cfg.Dispatch.AddDebounceMS)
	require.Equal(t, Default().Realtime.TokenPath, cfg.Realtime.TokenPath)
}

func TestParseJSONCRejectsUnknownField(t *testing.T) {
	_, _, err := parseJSONC(`{"bridge":{"grpc":"127.0.0.1:50051"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCVocabRejectsEmptySetName(t *testing.T) {
	_, _, err := parseJSONC(`{"vocab":{"sets":{" ":{"phrases":["x"]}}}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty set name")
}

func TestParseJSONCTrimsIndicatorFiles(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "indicator": {
    "sound_enable": false,
    "sound_start_file": "  /usr/share/sounds/start.wav  "
  }
}`, Default())
	require.NoError(t, err)
	require.False(t, cfg.Indicator.SoundEnable)
	require.Equal(t, "/usr/share/sounds/start.wav", cfg.Indicator.SoundStartFile)
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := parseJSONC(`{"log":{"level":"info"}}{"log":{"level":"debug"}}`, Default())
	require.Error(t, err)
	require.True(
		t,
		strings.Contains(err.Error(), "multiple JSON values") || strings.Contains(err.Error(), "unknown field"),
		"unexpected error: %v",
		err,
	)
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := parseJSONC(`{
  "bridge": {"timeout_ms": "fast"}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
	require.Contains(t, err.Error(), "column")
}

func TestParseJSONCVocabGlobalSupportsCommaString(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "vocab": {
    "global": "caños, accesorios, , marcas",
    "sets": {
      "caños": {"phrases": ["caño termofusión"]},
      "accesorios": {"phrases": ["codo", "cupla"]},
      "marcas": {"phrases": ["acqua system"]}
    }
  }
}`, Default())
	require.NoError(t, err)
	require.Equal(t, []string{"caños", "accesorios", "marcas"}, cfg.Vocab.GlobalSets)
}

func TestParseRejectsNonObjectContent(t *testing.T) {
	_, _, err := Parse("bridge.base_url = http://x", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "JSONC object")

	cfg, _, err := Parse("   ", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
