// Package config resolves, parses, validates, and defaults posvoice configuration.
package config

// Config is the fully materialized runtime configuration used by posvoice.
type Config struct {
	Bridge    BridgeConfig
	Realtime  RealtimeConfig
	Planner   PlannerConfig
	Turn      TurnConfig
	Dispatch  DispatchConfig
	Audio     AudioConfig
	Indicator IndicatorConfig
	Vocab     VocabConfig
	Feed      FeedConfig
	Log       LogConfig
}

// BridgeConfig points at the backend bridge that fronts search, confirm and the realtime token.
type BridgeConfig struct {
	BaseURL   string
	TimeoutMS int
}

// RealtimeConfig controls the voice transcription session handshake and server VAD.
type RealtimeConfig struct {
	TokenPath     string
	SDPPath       string
	Model         string
	Language      string
	VADThreshold  float64
	SilenceMS     int
	OpenTimeoutMS int
}

// PlannerConfig selects the natural-language planner backend.
type PlannerConfig struct {
	Backend      string
	Path         string
	Model        string
	RetryDelayMS int
}

// TurnConfig controls listening limits and transcript deduplication.
type TurnConfig struct {
	MaxTurnMS     int
	DedupWindowMS int
	CoalesceMS    int
}

// DispatchConfig controls guarded dispatch timing and result caps.
type DispatchConfig struct {
	AddDebounceMS int
	ResultsWaitMS int
	MaxResults    int
	// RefreshPrices re-reads item price and unit from the bridge before adding.
	RefreshPrices bool
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// IndicatorConfig controls audible listening cues.
type IndicatorConfig struct {
	SoundEnable     bool
	SoundStartFile  string
	SoundStopFile   string
	SoundCancelFile string
}

// VocabConfig controls enabled transcription hint sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// FeedConfig controls the operator feed and metrics listener.
type FeedConfig struct {
	Listen string
}

// LogConfig controls runtime log verbosity.
type LogConfig struct {
	Level string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// SpeechPhrase is one normalized transcription hint.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}
