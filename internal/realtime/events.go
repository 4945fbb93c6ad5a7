package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

type transcriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language"`
	Prompt   string `json:"prompt,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type sessionUpdate struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Session struct {
		InputAudioTranscription transcriptionConfig `json:"input_audio_transcription"`
		TurnDetection           turnDetection       `json:"turn_detection"`
	} `json:"session"`
}

type responseCreate struct {
	Type     string `json:"type"`
	EventID  string `json:"event_id"`
	Response struct {
		Modalities   []string `json:"modalities"`
		Instructions string   `json:"instructions"`
	} `json:"response"`
}

// transcriptionModel is the only model the realtime service transcribes with.
const transcriptionModel = "whisper-1"

func newSessionUpdate(cfg Config) ([]byte, error) {
	msg := sessionUpdate{Type: "session.update", EventID: "evt_" + uuid.NewString()}
	msg.Session.InputAudioTranscription = transcriptionConfig{
		Model:    transcriptionModel,
		Language: cfg.Language,
		Prompt:   cfg.Prompt,
	}
	msg.Session.TurnDetection = turnDetection{
		Type:              "server_vad",
		Threshold:         cfg.VADThreshold,
		SilenceDurationMS: int(cfg.Silence.Milliseconds()),
		CreateResponse:    false,
	}
	return json.Marshal(msg)
}

func newResponseCreate(instructions string) ([]byte, error) {
	msg := responseCreate{Type: "response.create", EventID: "evt_" + uuid.NewString()}
	msg.Response.Modalities = []string{"audio", "text"}
	msg.Response.Instructions = instructions
	return json.Marshal(msg)
}
