package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Bridge    *jsoncBridge    `json:"bridge"`
	Realtime  *jsoncRealtime  `json:"realtime"`
	Planner   *jsoncPlanner   `json:"planner"`
	Turn      *jsoncTurn      `json:"turn"`
	Dispatch  *jsoncDispatch  `json:"dispatch"`
	Audio     *jsoncAudio     `json:"audio"`
	Indicator *jsoncIndicator `json:"indicator"`
	Vocab     *jsoncVocab     `json:"vocab"`
	Feed      *jsoncFeed      `json:"feed"`
	Log       *jsoncLog       `json:"log"`
}

type jsoncBridge struct {
	BaseURL   *string `json:"base_url"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncRealtime struct {
	TokenPath     *string  `json:"token_path"`
	SDPPath       *string  `json:"sdp_path"`
	Model         *string  `json:"model"`
	Language      *string  `json:"language"`
	VADThreshold  *float64 `json:"vad_threshold"`
	SilenceMS     *int     `json:"silence_ms"`
	OpenTimeoutMS *int     `json:"open_timeout_ms"`
}

type jsoncPlanner struct {
	Backend      *string `json:"backend"`
	Path         *string `json:"path"`
	Model        *string `json:"model"`
	RetryDelayMS *int    `json:"retry_delay_ms"`
}

type jsoncTurn struct {
	MaxTurnMS     *int `json:"max_turn_ms"`
	DedupWindowMS *int `json:"dedup_window_ms"`
	CoalesceMS    *int `json:"coalesce_ms"`
}

type jsoncDispatch struct {
	AddDebounceMS *int  `json:"add_debounce_ms"`
	ResultsWaitMS *int  `json:"results_wait_ms"`
	MaxResults    *int  `json:"max_results"`
	RefreshPrices *bool `json:"refresh_prices"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncIndicator struct {
	SoundEnable     *bool   `json:"sound_enable"`
	SoundStartFile  *string `json:"sound_start_file"`
	SoundStopFile   *string `json:"sound_stop_file"`
	SoundCancelFile *string `json:"sound_cancel_file"`
}

type jsoncVocab struct {
	Global     *jsoncStringList         `json:"global"`
	MaxPhrases *int                     `json:"max_phrases"`
	Sets       map[string]jsoncVocabSet `json:"sets"`
}

type jsoncVocabSet struct {
	Boost   *float64 `json:"boost"`
	Phrases []string `json:"phrases"`
}

type jsoncFeed struct {
	Listen *string `json:"listen"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.Bridge != nil {
		setString(&cfg.Bridge.BaseURL, payload.Bridge.BaseURL)
		setInt(&cfg.Bridge.TimeoutMS, payload.Bridge.TimeoutMS)
	}

	if payload.Realtime != nil {
		setString(&cfg.Realtime.TokenPath, payload.Realtime.TokenPath)
		setString(&cfg.Realtime.SDPPath, payload.Realtime.SDPPath)
		setString(&cfg.Realtime.Model, payload.Realtime.Model)
		setString(&cfg.Realtime.Language, payload.Realtime.Language)
		if payload.Realtime.VADThreshold != nil {
			cfg.Realtime.VADThreshold = *payload.Realtime.VADThreshold
		}
		setInt(&cfg.Realtime.SilenceMS, payload.Realtime.SilenceMS)
		setInt(&cfg.Realtime.OpenTimeoutMS, payload.Realtime.OpenTimeoutMS)
	}

	if payload.Planner != nil {
		if payload.Planner.Backend != nil {
			cfg.Planner.Backend = strings.ToLower(strings.TrimSpace(*payload.Planner.Backend))
		}
		setString(&cfg.Planner.Path, payload.Planner.Path)
		setString(&cfg.Planner.Model, payload.Planner.Model)
		setInt(&cfg.Planner.RetryDelayMS, payload.Planner.RetryDelayMS)
	}

	if payload.Turn != nil {
		setInt(&cfg.Turn.MaxTurnMS, payload.Turn.MaxTurnMS)
		setInt(&cfg.Turn.DedupWindowMS, payload.Turn.DedupWindowMS)
		setInt(&cfg.Turn.CoalesceMS, payload.Turn.CoalesceMS)
	}

	if payload.Dispatch != nil {
		setInt(&cfg.Dispatch.AddDebounceMS, payload.Dispatch.AddDebounceMS)
		setInt(&cfg.Dispatch.ResultsWaitMS, payload.Dispatch.ResultsWaitMS)
		setInt(&cfg.Dispatch.MaxResults, payload.Dispatch.MaxResults)
		if payload.Dispatch.RefreshPrices != nil {
			cfg.Dispatch.RefreshPrices = *payload.Dispatch.RefreshPrices
		}
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
	}

	if payload.Indicator != nil {
		if payload.Indicator.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
		}
		setString(&cfg.Indicator.SoundStartFile, payload.Indicator.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, payload.Indicator.SoundStopFile)
		setString(&cfg.Indicator.SoundCancelFile, payload.Indicator.SoundCancelFile)
	}

	if payload.Vocab != nil {
		if payload.Vocab.Global != nil {
			cfg.Vocab.GlobalSets = cfg.Vocab.GlobalSets[:0]
			for _, name := range *payload.Vocab.Global {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				cfg.Vocab.GlobalSets = append(cfg.Vocab.GlobalSets, name)
			}
		}
		if payload.Vocab.MaxPhrases != nil {
			cfg.Vocab.MaxPhrases = *payload.Vocab.MaxPhrases
		}
		if payload.Vocab.Sets != nil {
			if cfg.Vocab.Sets == nil {
				cfg.Vocab.Sets = make(map[string]VocabSet)
			}
			for name, set := range payload.Vocab.Sets {
				trimmedName := strings.TrimSpace(name)
				if trimmedName == "" {
					return nil, fmt.Errorf("vocab.sets contains an empty set name")
				}

				phrases := make([]string, 0, len(set.Phrases))
				phrases = append(phrases, set.Phrases...)

				entry := VocabSet{Name: trimmedName, Phrases: phrases}
				if set.Boost != nil {
					entry.Boost = *set.Boost
				}
				cfg.Vocab.Sets[trimmedName] = entry
			}
		}
	}

	if payload.Feed != nil {
		setString(&cfg.Feed.Listen, payload.Feed.Listen)
	}

	if payload.Log != nil && payload.Log.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*payload.Log.Level))
	}

	return warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
