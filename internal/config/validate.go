package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	baseURL := strings.TrimSpace(cfg.Bridge.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("bridge.base_url must not be empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("bridge.base_url must be an absolute http(s) URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("bridge.base_url must use http or https")
	}
	if cfg.Bridge.TimeoutMS <= 0 {
		return nil, fmt.Errorf("bridge.timeout_ms must be > 0")
	}

	for key, path := range map[string]string{
		"realtime.token_path": cfg.Realtime.TokenPath,
		"realtime.sdp_path":   cfg.Realtime.SDPPath,
	} {
		if !strings.HasPrefix(strings.TrimSpace(path), "/") {
			return nil, fmt.Errorf("%s must start with '/'", key)
		}
	}
	if strings.TrimSpace(cfg.Realtime.Language) == "" {
		return nil, fmt.Errorf("realtime.language must not be empty")
	}
	if cfg.Realtime.VADThreshold <= 0 || cfg.Realtime.VADThreshold >= 1 {
		return nil, fmt.Errorf("realtime.vad_threshold must be in (0, 1)")
	}
	if cfg.Realtime.SilenceMS <= 0 {
		return nil, fmt.Errorf("realtime.silence_ms must be > 0")
	}
	if cfg.Realtime.OpenTimeoutMS <= 0 {
		return nil, fmt.Errorf("realtime.open_timeout_ms must be > 0")
	}

	switch cfg.Planner.Backend {
	case "bridge":
		if !strings.HasPrefix(strings.TrimSpace(cfg.Planner.Path), "/") {
			return nil, fmt.Errorf("planner.path must start with '/' when planner.backend=bridge")
		}
	case "openai":
		if strings.TrimSpace(cfg.Planner.Model) == "" {
			return nil, fmt.Errorf("planner.model must not be empty when planner.backend=openai")
		}
	case "none":
		warnings = append(warnings, Warning{Message: "planner.backend=none; only local rules will interpret utterances"})
	default:
		return nil, fmt.Errorf("planner.backend must be one of: bridge, openai, none")
	}
	if cfg.Planner.RetryDelayMS < 0 {
		return nil, fmt.Errorf("planner.retry_delay_ms must be >= 0")
	}

	if cfg.Turn.MaxTurnMS < 0 {
		return nil, fmt.Errorf("turn.max_turn_ms must be >= 0")
	}
	if cfg.Turn.DedupWindowMS <= 0 {
		return nil, fmt.Errorf("turn.dedup_window_ms must be > 0")
	}
	if cfg.Turn.CoalesceMS < 0 {
		return nil, fmt.Errorf("turn.coalesce_ms must be >= 0")
	}

	if cfg.Dispatch.AddDebounceMS < 0 {
		return nil, fmt.Errorf("dispatch.add_debounce_ms must be >= 0")
	}
	if cfg.Dispatch.ResultsWaitMS < 0 {
		return nil, fmt.Errorf("dispatch.results_wait_ms must be >= 0")
	}
	if cfg.Dispatch.MaxResults <= 0 {
		return nil, fmt.Errorf("dispatch.max_results must be > 0")
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}

	if strings.TrimSpace(cfg.Feed.Listen) == "" {
		warnings = append(warnings, Warning{Message: "feed.listen is empty; operator feed and metrics are disabled"})
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	_, vocabWarnings, err := BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

// BuildSpeechPhrases merges enabled vocab sets into deterministic transcription hints.
func BuildSpeechPhrases(cfg Config) ([]SpeechPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]SpeechPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, SpeechPhrase{Phrase: phrase, Boost: float32(c.boost)})
	}

	sort.Slice(phrases, func(i, j int) bool {
		if phrases[i].Phrase == phrases[j].Phrase {
			return phrases[i].Boost < phrases[j].Boost
		}
		return phrases[i].Phrase < phrases[j].Phrase
	})

	return phrases, warnings, nil
}

// TranscriptionPrompt renders enabled vocab phrases as a transcription hint,
// highest boost first.
func TranscriptionPrompt(cfg Config) string {
	phrases, _, err := BuildSpeechPhrases(cfg)
	if err != nil || len(phrases) == 0 {
		return ""
	}
	sort.SliceStable(phrases, func(i, j int) bool {
		return phrases[i].Boost > phrases[j].Boost
	})
	parts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		parts = append(parts, p.Phrase)
	}
	return strings.Join(parts, ", ")
}
