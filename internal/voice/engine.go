package voice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aurelia-labs/voicecore/internal/observe"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
	"github.com/aurelia-labs/voicecore/pkg/provider/eot"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime"
)

// ProviderFactory builds one realtime provider adapter per session.
type ProviderFactory func(sessionID string) realtime.Provider

// DetectorFactory builds one end-of-turn detector per session. Detectors keep
// per-session verdict caches and are not safe to share.
type DetectorFactory func() *eot.Detector

// VoiceEngine is the embedding surface of the engine: it creates sessions
// bound to a transport, tracks them in a registry, and shuts them down
// together. Transports (the WebSocket server, tests) talk only to this type
// and to the VoiceSession it hands back.
type VoiceEngine struct {
	defaults  Settings
	providers ProviderFactory
	detectors DetectorFactory
	manager   *SessionManager
	log       *slog.Logger
	metrics   *observe.Metrics
}

// EngineOption customises a VoiceEngine.
type EngineOption func(*VoiceEngine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *VoiceEngine) { e.log = log }
}

// WithEngineMetrics sets the metrics sink shared by the engine and its
// sessions.
func WithEngineMetrics(m *observe.Metrics) EngineOption {
	return func(e *VoiceEngine) { e.metrics = m }
}

// WithEngineEOTDetectors wires a semantic end-of-turn classifier factory; the
// engine builds one detector per session it creates.
func WithEngineEOTDetectors(f DetectorFactory) EngineOption {
	return func(e *VoiceEngine) { e.detectors = f }
}

// NewVoiceEngine creates an engine. defaults seed every session's Settings;
// providers builds the upstream adapter for each new session.
func NewVoiceEngine(defaults Settings, providers ProviderFactory, opts ...EngineOption) *VoiceEngine {
	defaults.applyDefaults()
	e := &VoiceEngine{
		defaults:  defaults,
		providers: providers,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.manager = NewSessionManager(e.log, e.metrics)
	return e
}

// CreateSession builds, registers and starts a session for one client
// connection. payload carries the client's session.start overrides; replyTo
// is the msg_id of that envelope. On error nothing stays registered.
func (e *VoiceEngine) CreateSession(ctx context.Context, tr Transport, payload protocol.SessionStartPayload, replyTo string) (*VoiceSession, error) {
	id := uuid.NewString()
	var detector *eot.Detector
	if e.detectors != nil {
		detector = e.detectors()
	}
	s := NewSession(id, e.defaults, tr, e.providers(id),
		WithLogger(e.log),
		WithMetrics(e.metrics),
		WithEOTDetector(detector),
		WithOnClose(e.manager.Remove),
	)
	if !e.manager.Add(s) {
		return nil, fmt.Errorf("voice: session id collision: %s", id)
	}
	if err := s.Start(ctx, payload, replyTo); err != nil {
		e.manager.Remove(id)
		return nil, err
	}
	e.log.Info("engine: session started", "session_id", id)
	return s, nil
}

// Session returns a registered session by id.
func (e *VoiceEngine) Session(id string) (*VoiceSession, bool) {
	return e.manager.Get(id)
}

// ActiveSessions returns the number of live sessions.
func (e *VoiceEngine) ActiveSessions() int {
	return e.manager.Len()
}

// Shutdown stops every live session and blocks until all have finished.
func (e *VoiceEngine) Shutdown(reason string) {
	e.manager.Shutdown(reason)
}
