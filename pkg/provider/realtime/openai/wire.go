package openai

import "github.com/aurelia-labs/voicecore/pkg/provider/realtime"

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type typeOnlyMessage struct {
	Type string `json:"type"`
}

type sessionUpdateMessage struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

type sessionBody struct {
	Modalities         []string       `json:"modalities"`
	Instructions       string         `json:"instructions,omitempty"`
	Voice              string         `json:"voice,omitempty"`
	Temperature        float64        `json:"temperature,omitempty"`
	InputAudioFormat   string         `json:"input_audio_format"`
	OutputAudioFormat  string         `json:"output_audio_format"`
	InputTranscription *transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection      *turnDetection `json:"turn_detection"`
}

type transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	Eagerness         string  `json:"eagerness,omitempty"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// sessionParams maps a neutral SessionConfig onto the Realtime session.update
// body. A nil TurnDetection serializes as an explicit null, which selects
// manual turn handling.
func sessionParams(cfg realtime.SessionConfig) sessionBody {
	body := sessionBody{
		Modalities:        []string{"audio", "text"},
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		Temperature:       cfg.Temperature,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.TranscriptionModel != "" {
		body.InputTranscription = &transcription{
			Model:    cfg.TranscriptionModel,
			Language: cfg.TranscriptionLanguage,
		}
	}
	if td := cfg.TurnDetection; td != nil {
		out := &turnDetection{
			Type:              td.Type,
			CreateResponse:    td.CreateResponse,
			InterruptResponse: td.InterruptResponse,
		}
		switch td.Type {
		case "semantic_vad":
			out.Eagerness = td.Eagerness
		default:
			out.Threshold = td.Threshold
			out.SilenceDurationMS = td.SilenceDurationMS
			out.PrefixPaddingMS = td.PrefixPaddingMS
		}
		body.TurnDetection = out
	}
	return body
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type truncateMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverEvent is the superset of fields across all Realtime server events the
// adapter consumes; only the fields for the given Type are populated.
type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.text.delta /
	// response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// response.text.done
	Text string `json:"text,omitempty"`

	// conversation.item.input_audio_transcription.completed /
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// transcription events and response.output_item scoping
	ItemID       string `json:"item_id,omitempty"`
	ContentIndex int    `json:"content_index,omitempty"`

	Item     *serverItem     `json:"item,omitempty"`
	Response *serverResponse `json:"response,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverItem struct {
	ID string `json:"id"`
}

type serverResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// serverErrorDetail is the nested error object of a Realtime error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
