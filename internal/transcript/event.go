package transcript

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind is the logical class of an inbound realtime event.
type Kind int

const (
	KindUnknown Kind = iota
	KindDelta
	KindCompleted
	KindSpeechStarted
	KindSpeechStopped
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindCompleted:
		return "completed"
	case KindSpeechStarted:
		return "speech_started"
	case KindSpeechStopped:
		return "speech_stopped"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// kindByTag maps both the current and the legacy wire tags onto one kind.
var kindByTag = map[string]Kind{
	"conversation.item.input_audio_transcription.delta":     KindDelta,
	"input_audio_transcription.delta":                       KindDelta,
	"conversation.item.input_audio_transcription.completed": KindCompleted,
	"input_audio_transcription.completed":                   KindCompleted,
	"input_audio_buffer.speech_started":                     KindSpeechStarted,
	"input_audio_buffer.speech_stopped":                     KindSpeechStopped,
	"error":                                                 KindError,
}

// ErrMalformed is returned for payloads that are not a JSON object with a type.
var ErrMalformed = errors.New("malformed realtime event")

// Event is the decoded subset of one realtime event.
type Event struct {
	Tag    string
	Kind   Kind
	ItemID string
	Text   string
	Error  string
}

type wireEvent struct {
	Type       string          `json:"type"`
	ItemID     string          `json:"item_id"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	Error      json.RawMessage `json:"error"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Parse decodes one data channel message. Unrecognized tags decode to KindUnknown.
func Parse(raw []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Event{}, ErrMalformed
	}
	if strings.TrimSpace(wire.Type) == "" {
		return Event{}, ErrMalformed
	}

	ev := Event{
		Tag:    wire.Type,
		Kind:   kindByTag[wire.Type],
		ItemID: wire.ItemID,
	}
	switch ev.Kind {
	case KindDelta:
		ev.Text = wire.Delta
		if ev.Text == "" {
			ev.Text = wire.Transcript
		}
	case KindCompleted:
		ev.Text = wire.Transcript
	case KindError:
		ev.Error = errorMessage(wire.Error)
	}
	return ev, nil
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown realtime error"
	}
	var structured wireError
	if err := json.Unmarshal(raw, &structured); err == nil {
		parts := make([]string, 0, 2)
		if structured.Code != "" {
			parts = append(parts, structured.Code)
		}
		if structured.Message != "" {
			parts = append(parts, structured.Message)
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return plain
	}
	return string(raw)
}
