package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aurelia-labs/voicecore/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
  api_keys: ["key-one"]
  max_sessions: 16
provider:
  name: openai-realtime
  api_key: sk-test
  model: gpt-4o-realtime-preview
engine:
  min_commit_ms: 120
  min_user_audio_ms: 400
  vad_threshold: 0.015
  vad_silence_ms: 280
  vad_hangover_ms: 180
  barge_in_min_ms: 220
  post_turn_silence_ms: 360
  output_chunk_ms: 90
  provider_connect_timeout_ms: 8000
  idle_timeout_ms: 30000
  turn_detection: manual
  voice: alloy
  temperature: 0.8
  semantic_eot:
    use_llm: true
    min_delay_ms: 250
    max_delay_ms: 900
    llm_timeout_ms: 180
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Server.MaxSessions != 16 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Provider.Name != "openai-realtime" {
		t.Fatalf("provider = %+v", cfg.Provider)
	}
	if cfg.Engine.VADThreshold != 0.015 || cfg.Engine.TurnDetection != config.TurnDetectionManual {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if got := cfg.Engine.ConnectTimeout(); got != 8*time.Second {
		t.Fatalf("ConnectTimeout = %v", got)
	}
	if got := cfg.Engine.IdleTimeout(); got != 30*time.Second {
		t.Fatalf("IdleTimeout = %v", got)
	}
	if !cfg.Engine.SemanticEOT.EOTEnabled() {
		t.Fatal("semantic EoT should default to enabled")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_adr: ":8080"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_BadValues(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: "log_level",
		},
		{
			name: "vad threshold out of range",
			yaml: "engine:\n  vad_threshold: 1.5\n",
			want: "vad_threshold",
		},
		{
			name: "chunk duration out of range",
			yaml: "engine:\n  output_chunk_ms: 20\n",
			want: "output_chunk_ms",
		},
		{
			name: "bad turn detection mode",
			yaml: "engine:\n  turn_detection: psychic\n",
			want: "turn_detection",
		},
		{
			name: "temperature out of range",
			yaml: "engine:\n  temperature: 3.0\n",
			want: "temperature",
		},
		{
			name: "negative barge-in minimum",
			yaml: "engine:\n  barge_in_min_ms: -1\n",
			want: "barge_in_min_ms",
		},
		{
			name: "inverted eot delay bounds",
			yaml: "engine:\n  semantic_eot:\n    min_delay_ms: 500\n    max_delay_ms: 300\n",
			want: "max_delay_ms",
		},
		{
			name: "tls missing key",
			yaml: "server:\n  tls:\n    cert_file: /tmp/cert.pem\n",
			want: "tls",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %s, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_ZeroConfigIsUsable(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}\n"))
	if err != nil {
		t.Fatalf("empty config should load with defaults: %v", err)
	}
	if got := cfg.Engine.ConnectTimeout(); got != 8*time.Second {
		t.Fatalf("default ConnectTimeout = %v", got)
	}
}
