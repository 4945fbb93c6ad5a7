package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Bridge: BridgeConfig{
			BaseURL:   "http://127.0.0.1:8000",
			TimeoutMS: 15000,
		},
		Realtime: RealtimeConfig{
			TokenPath:     "/realtime/session",
			SDPPath:       "/realtime/sdp",
			Model:         "gpt-4o-mini-realtime-preview",
			Language:      "es",
			VADThreshold:  0.6,
			SilenceMS:     900,
			OpenTimeoutMS: 10000,
		},
		Planner: PlannerConfig{
			Backend:      "bridge",
			Path:         "/bridge/interpret",
			Model:        "gpt-4o-mini",
			RetryDelayMS: 400,
		},
		Turn: TurnConfig{
			MaxTurnMS:     0,
			DedupWindowMS: 10000,
			CoalesceMS:    350,
		},
		Dispatch: DispatchConfig{
			AddDebounceMS: 700,
			ResultsWaitMS: 3000,
			MaxResults:    20,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Indicator: IndicatorConfig{
			SoundEnable: true,
		},
		Vocab: VocabConfig{
			GlobalSets: nil,
			Sets:       map[string]VocabSet{},
			MaxPhrases: 256,
		},
		Feed: FeedConfig{Listen: "127.0.0.1:8765"},
		Log:  LogConfig{Level: "info"},
	}
}
