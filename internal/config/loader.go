package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the realtime provider adapters this build knows.
// [Validate] warns about unrecognised names instead of failing, so a config
// written for a newer build still loads.
var ValidProviderNames = []string{"openai-realtime"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos surface at startup, not at runtime.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; soft problems are
// logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if len(cfg.Server.APIKeys) == 0 {
		slog.Warn("server.api_keys is empty; the ticket endpoint will reject every client")
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider
	if cfg.Provider.Name != "" && !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or a newer adapter",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; sessions will fail to start")
	}

	// Engine
	e := cfg.Engine
	if e.VADThreshold < 0 || e.VADThreshold >= 1 {
		errs = append(errs, fmt.Errorf("engine.vad_threshold %.4f is out of range (0, 1)", e.VADThreshold))
	}
	if e.OutputChunkMS != 0 && (e.OutputChunkMS < 40 || e.OutputChunkMS > 320) {
		errs = append(errs, fmt.Errorf("engine.output_chunk_ms %d is out of range [40, 320]", e.OutputChunkMS))
	}
	if e.TurnDetection != "" && !e.TurnDetection.IsValid() {
		errs = append(errs, fmt.Errorf("engine.turn_detection %q is invalid; valid values: manual, server_vad, semantic_vad", e.TurnDetection))
	}
	if e.Temperature < 0 || e.Temperature > 2 {
		errs = append(errs, fmt.Errorf("engine.temperature %.2f is out of range [0, 2]", e.Temperature))
	}
	for name, v := range map[string]int{
		"engine.min_commit_ms":          e.MinCommitMS,
		"engine.min_commit_bytes":       e.MinCommitBytes,
		"engine.min_user_audio_ms":      e.MinUserAudioMS,
		"engine.min_transcript_chars":   e.MinTranscriptChars,
		"engine.vad_silence_ms":         e.VADSilenceMS,
		"engine.vad_hangover_ms":        e.VADHangoverMS,
		"engine.min_speech_ms_for_turn": e.MinSpeechMSForTurn,
		"engine.barge_in_min_ms":        e.BargeInMinMS,
		"engine.post_turn_silence_ms":   e.PostTurnSilenceMS,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", name, v))
		}
	}

	// Semantic EoT
	se := e.SemanticEOT
	if se.MinDelayMS < 0 || se.MaxDelayMS < 0 || se.LLMTimeoutMS < 0 {
		errs = append(errs, errors.New("engine.semantic_eot delays must not be negative"))
	}
	if se.MinDelayMS > 0 && se.MaxDelayMS > 0 && se.MaxDelayMS <= se.MinDelayMS {
		errs = append(errs, fmt.Errorf("engine.semantic_eot.max_delay_ms %d must exceed min_delay_ms %d", se.MaxDelayMS, se.MinDelayMS))
	}
	if se.LLMTimeoutMS > 200 {
		slog.Warn("engine.semantic_eot.llm_timeout_ms exceeds the 200ms ceiling; it will be clamped",
			"configured", se.LLMTimeoutMS)
	}
	if se.UseLLM && cfg.Provider.APIKey == "" {
		slog.Warn("engine.semantic_eot.use_llm is set but provider.api_key is empty; refinement will be disabled")
	}
	if e.TurnDetection != "" && e.TurnDetection != TurnDetectionManual && se.EOTEnabled() && se.Enabled != nil {
		slog.Warn("engine.semantic_eot.enabled has no effect outside manual turn detection",
			"turn_detection", e.TurnDetection)
	}

	return errors.Join(errs...)
}
