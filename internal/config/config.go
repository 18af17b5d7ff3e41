// Package config provides the configuration schema and loader for the
// voicecore server.
package config

import "time"

// LogLevel controls log verbosity for the voicecore server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TurnDetectionMode selects who decides when a user turn ends.
type TurnDetectionMode string

const (
	// TurnDetectionManual keeps turn taking in the engine: local VAD plus the
	// semantic end-of-turn classifier, with explicit commits upstream.
	TurnDetectionManual TurnDetectionMode = "manual"

	// TurnDetectionServerVAD delegates turn taking to the provider's
	// amplitude VAD.
	TurnDetectionServerVAD TurnDetectionMode = "server_vad"

	// TurnDetectionSemanticVAD delegates turn taking to the provider's
	// semantic VAD.
	TurnDetectionSemanticVAD TurnDetectionMode = "semantic_vad"
)

// IsValid reports whether m is a recognised turn detection mode.
func (m TurnDetectionMode) IsValid() bool {
	switch m {
	case TurnDetectionManual, TurnDetectionServerVAD, TurnDetectionSemanticVAD:
		return true
	}
	return false
}

// Config is the root configuration structure for voicecore, typically loaded
// from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServerConfig holds network, auth and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// APIKeys authorise the ticket-issuing endpoint. A client first redeems
	// an API key for a short-lived connection ticket, then presents the
	// ticket on the WebSocket handshake.
	APIKeys []string `yaml:"api_keys"`

	// MaxSessions caps concurrent voice sessions. Zero means 64.
	MaxSessions int `yaml:"max_sessions"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderConfig selects and authenticates the upstream realtime model.
type ProviderConfig struct {
	// Name selects the adapter. Currently "openai-realtime".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Leave empty to use
	// the adapter's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g. "gpt-4o-realtime-preview").
	Model string `yaml:"model"`
}

// EngineConfig holds the per-session turn-taking and pipeline tunables.
// Zero values fall back to the engine defaults.
type EngineConfig struct {
	// MinCommitMS and MinCommitBytes reject commits of buffers too short to
	// transcribe. Defaults: 120 ms and the byte equivalent at 16 kHz mono.
	MinCommitMS    int `yaml:"min_commit_ms"`
	MinCommitBytes int `yaml:"min_commit_bytes"`

	// MinUserAudioMS and MinTranscriptChars feed the empty-turn gate.
	// Defaults: 400 ms and 3 characters.
	MinUserAudioMS     int `yaml:"min_user_audio_ms"`
	MinTranscriptChars int `yaml:"min_transcript_chars"`

	// VADThreshold is the RMS speech threshold in (0, 1). Default 0.015.
	VADThreshold float64 `yaml:"vad_threshold"`

	// VADSilenceMS plus VADHangoverMS of quiet ends a speech segment.
	// Defaults: 280 and 180.
	VADSilenceMS  int `yaml:"vad_silence_ms"`
	VADHangoverMS int `yaml:"vad_hangover_ms"`

	// MinSpeechMSForTurn is the shortest speech segment that counts as a
	// turn. Default 180.
	MinSpeechMSForTurn int `yaml:"min_speech_ms_for_turn"`

	// BargeInMinMS is the sustained speech needed to interrupt the
	// assistant. Default 220.
	BargeInMinMS int `yaml:"barge_in_min_ms"`

	// PostTurnSilenceMS replaces the hangover right after an assistant turn.
	// Default 360.
	PostTurnSilenceMS int `yaml:"post_turn_silence_ms"`

	// SemanticEOT tunes the end-of-turn classifier.
	SemanticEOT SemanticEOTConfig `yaml:"semantic_eot"`

	// OutputChunkMS is the fixed assistant audio chunk duration, 40-320.
	// Default 90.
	OutputChunkMS int `yaml:"output_chunk_ms"`

	// ProviderConnectTimeoutMS bounds the provider handshake. Default 8000.
	ProviderConnectTimeoutMS int `yaml:"provider_connect_timeout_ms"`

	// IdleTimeoutMS ends sessions with no input audio. Default 30000.
	IdleTimeoutMS int `yaml:"idle_timeout_ms"`

	// TurnDetection selects the turn-taking mode. Default "manual".
	TurnDetection TurnDetectionMode `yaml:"turn_detection"`

	// Assistant defaults; session.start may override them per call.
	Instructions       string  `yaml:"instructions"`
	Voice              string  `yaml:"voice"`
	Temperature        float64 `yaml:"temperature"`
	TranscriptionModel string  `yaml:"transcription_model"`
	Language           string  `yaml:"language"`
}

// SemanticEOTConfig tunes the semantic end-of-turn classifier.
type SemanticEOTConfig struct {
	// Enabled turns the classifier on. Default true in manual mode.
	Enabled *bool `yaml:"enabled"`

	// UseLLM enables LLM refinement of uncertain heuristic verdicts.
	UseLLM bool `yaml:"use_llm"`

	// MinDelayMS and MaxDelayMS bound the recommended commit delay.
	// Defaults: 250 and 900.
	MinDelayMS int `yaml:"min_delay_ms"`
	MaxDelayMS int `yaml:"max_delay_ms"`

	// LLMTimeoutMS caps one refinement call. Default 180, ceiling 200.
	LLMTimeoutMS int `yaml:"llm_timeout_ms"`
}

// EOTEnabled reports whether the semantic classifier should run.
func (c SemanticEOTConfig) EOTEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ConnectTimeout returns ProviderConnectTimeoutMS as a duration, defaulted.
func (e EngineConfig) ConnectTimeout() time.Duration {
	if e.ProviderConnectTimeoutMS <= 0 {
		return 8 * time.Second
	}
	return time.Duration(e.ProviderConnectTimeoutMS) * time.Millisecond
}

// IdleTimeout returns IdleTimeoutMS as a duration, defaulted.
func (e EngineConfig) IdleTimeout() time.Duration {
	if e.IdleTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.IdleTimeoutMS) * time.Millisecond
}
