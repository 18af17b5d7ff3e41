// Package voice implements the per-call engine core: the session state
// machine, the audio pipeline, turn management, and the orchestration between
// one client transport and one realtime provider session.
package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-labs/voicecore/internal/observe"
	"github.com/aurelia-labs/voicecore/internal/policy"
	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
	"github.com/aurelia-labs/voicecore/pkg/provider/eot"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime"
)

// Settings are the per-session tunables. Zero values fall back to defaults;
// the server builds one from runtime configuration and session.start overrides
// are merged in Start.
type Settings struct {
	// Commit minimums.
	MinCommitMS    int
	MinCommitBytes int

	// Empty-turn gate.
	MinUserAudioMS     int
	MinTranscriptChars int

	// Local VAD and turn taking.
	VADThreshold       float64
	VADSilenceMS       int
	VADHangoverMS      int
	MinSpeechMSForTurn int
	BargeInMinMS       int
	PostTurnSilenceMS  int

	// Assistant audio chunking.
	OutputChunkMS int

	// Lifecycle.
	ProviderConnectTimeout time.Duration
	IdleTimeout            time.Duration

	// Assistant defaults, overridable per session.start.
	Instructions          string
	Voice                 string
	Temperature           float64
	TranscriptionModel    string
	TranscriptionLanguage string

	// TurnDetection selects who detects turns: "manual" (the engine's local
	// VAD and end-of-turn classifier), "server_vad" or "semantic_vad"
	// (delegated to the provider).
	TurnDetection string
}

func (s *Settings) applyDefaults() {
	if s.MinCommitMS == 0 {
		s.MinCommitMS = 120
	}
	if s.MinCommitBytes == 0 {
		// MinCommitMS of 16 kHz mono PCM16.
		s.MinCommitBytes = s.MinCommitMS * 16 * 2
	}
	if s.MinUserAudioMS == 0 {
		s.MinUserAudioMS = 400
	}
	if s.MinTranscriptChars == 0 {
		s.MinTranscriptChars = 3
	}
	if s.VADThreshold == 0 {
		s.VADThreshold = 0.015
	}
	if s.VADSilenceMS == 0 {
		s.VADSilenceMS = 280
	}
	if s.VADHangoverMS == 0 {
		s.VADHangoverMS = 180
	}
	if s.MinSpeechMSForTurn == 0 {
		s.MinSpeechMSForTurn = 180
	}
	if s.BargeInMinMS == 0 {
		s.BargeInMinMS = 220
	}
	if s.PostTurnSilenceMS == 0 {
		s.PostTurnSilenceMS = 360
	}
	if s.OutputChunkMS == 0 {
		s.OutputChunkMS = 90
	}
	if s.ProviderConnectTimeout == 0 {
		s.ProviderConnectTimeout = 8 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 30 * time.Second
	}
	if s.Temperature == 0 {
		s.Temperature = 0.8
	}
	if s.TranscriptionModel == "" {
		s.TranscriptionModel = "whisper-1"
	}
	if s.TurnDetection == "" {
		s.TurnDetection = "manual"
	}
}

// turnTrack carries the five latency checkpoints of one user turn.
type turnTrack struct {
	id             string
	inputStartedAt time.Time
	commitAt       time.Time
	sttPartialAt   time.Time
	sttFinalAt     time.Time
	firstAudioAt   time.Time
}

// VoiceSession binds one client transport to one realtime provider session
// and runs the turn-taking state machine between them.
//
// All session state is owned by the run goroutine; external callers reach it
// through posted ops, so no field below needs a lock except the small
// lifecycle block guarded by mu.
type VoiceSession struct {
	id        string
	set       Settings
	transport Transport
	provider  realtime.Provider

	pipeline *AudioPipeline
	turns    *TurnManager
	echo     *RecentBotOutputs
	inbound  *InboundHistory
	detector *eot.Detector

	log     *slog.Logger
	metrics *observe.Metrics
	onClose func(id string)
	now     func() time.Time

	ops  chan func()
	done chan struct{}

	mu        sync.Mutex
	running   bool
	closeOnce sync.Once

	// run-goroutine state.
	state             State
	localTurns        bool
	ending            bool
	idle              *time.Timer
	turn              turnTrack
	lastInputSeq      uint32
	haveInputSeq      bool
	sentOutputMS      float64
	assistantActive   bool
	lastSTTFinalChars int
}

// Option customises a session at construction.
type Option func(*VoiceSession)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *VoiceSession) { s.log = log }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *VoiceSession) { s.metrics = m }
}

// WithEOTDetector wires the semantic end-of-turn classifier into the turn
// manager. Without it, end-of-turn falls back to VAD silence alone.
func WithEOTDetector(d *eot.Detector) Option {
	return func(s *VoiceSession) { s.detector = d }
}

// WithOnClose registers a callback invoked once when the session stops, after
// the transport is closed. The manager uses it to drop its registry entry.
func WithOnClose(fn func(id string)) Option {
	return func(s *VoiceSession) { s.onClose = fn }
}

// withNow overrides the session clock in tests.
func withNow(now func() time.Time) Option {
	return func(s *VoiceSession) { s.now = now }
}

// NewSession creates a session bound to transport and provider. The session
// does nothing until Start.
func NewSession(id string, set Settings, tr Transport, p realtime.Provider, opts ...Option) *VoiceSession {
	set.applyDefaults()
	s := &VoiceSession{
		id:        id,
		set:       set,
		transport: tr,
		provider:  p,
		pipeline:  NewAudioPipeline(),
		echo:      NewRecentBotOutputs(),
		inbound:   NewInboundHistory(),
		log:       slog.Default(),
		now:       time.Now,
		ops:       make(chan func(), 64),
		done:      make(chan struct{}),
		state:     StateReady,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.log = s.log.With("session_id", id)

	s.turns = NewTurnManager(TurnConfig{
		VADThreshold:       s.set.VADThreshold,
		VADSilenceMS:       s.set.VADSilenceMS,
		VADHangoverMS:      s.set.VADHangoverMS,
		MinSpeechMSForTurn: s.set.MinSpeechMSForTurn,
		BargeInMinMS:       s.set.BargeInMinMS,
		PostTurnSilenceMS:  s.set.PostTurnSilenceMS,
	}, s.detector, s.echo, s.log)
	return s
}

// ID returns the session id.
func (s *VoiceSession) ID() string { return s.id }

// Done is closed once the session has fully stopped.
func (s *VoiceSession) Done() <-chan struct{} { return s.done }

// Start opens the provider session and launches the run loop. payload carries
// the client's session.start overrides; replyTo links the session.started ack
// back to the request. Start may be called once.
func (s *VoiceSession) Start(ctx context.Context, payload protocol.SessionStartPayload, replyTo string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("voice: session %s already started", s.id)
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return fmt.Errorf("voice: session %s already stopped", s.id)
	default:
	}
	s.mu.Unlock()

	cfg := s.providerConfig(payload)
	s.localTurns = cfg.TurnDetection == nil

	ctx, cancel := context.WithTimeout(ctx, s.set.ProviderConnectTimeout)
	defer cancel()
	if err := s.provider.Start(ctx, cfg); err != nil {
		return fmt.Errorf("voice: start session %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.sendControl(protocol.TypeSessionStarted, protocol.SessionStartedPayload{SessionID: s.id}, replyTo)
	s.sendState(StateReady)
	s.armIdle()
	go s.run()
	return nil
}

func (s *VoiceSession) providerConfig(p protocol.SessionStartPayload) realtime.SessionConfig {
	cfg := realtime.SessionConfig{
		SessionID:             s.id,
		Instructions:          s.set.Instructions,
		Voice:                 s.set.Voice,
		Temperature:           s.set.Temperature,
		TranscriptionModel:    s.set.TranscriptionModel,
		TranscriptionLanguage: s.set.TranscriptionLanguage,
		OutputChunkMS:         s.set.OutputChunkMS,
	}
	if p.Instructions != "" {
		cfg.Instructions = p.Instructions
	}
	if p.Voice != "" {
		cfg.Voice = p.Voice
	}
	if p.Temperature != 0 {
		cfg.Temperature = p.Temperature
	}
	if p.Language != "" {
		cfg.TranscriptionLanguage = p.Language
	}

	mode := s.set.TurnDetection
	if p.TurnDetection != "" {
		mode = p.TurnDetection
	}
	switch mode {
	case "server_vad":
		cfg.TurnDetection = &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         s.set.VADThreshold,
			SilenceDurationMS: s.set.VADSilenceMS,
			PrefixPaddingMS:   300,
			CreateResponse:    true,
			InterruptResponse: true,
		}
	case "semantic_vad":
		cfg.TurnDetection = &realtime.TurnDetection{
			Type:              "semantic_vad",
			Eagerness:         "auto",
			CreateResponse:    true,
			InterruptResponse: true,
		}
	default:
		// Manual: the engine commits explicitly, local VAD active.
	}
	return cfg
}

// HandleControl processes one validated client envelope on the op chain.
func (s *VoiceSession) HandleControl(env protocol.Envelope) {
	s.post(func() { s.onControl(env) })
}

// HandleBinaryAudio decodes and processes one binary audio frame.
func (s *VoiceSession) HandleBinaryAudio(raw []byte) {
	f, err := protocol.DecodeFrame(raw)
	if err != nil {
		verr, _ := err.(*protocol.ValidationError)
		s.post(func() {
			if verr != nil {
				s.sendWarning(verr.Code, verr.Message, "")
			} else {
				s.sendWarning(protocol.CodeBadShape, err.Error(), "")
			}
		})
		return
	}
	s.post(func() { s.onAudio(f, true) })
}

// Stop shuts the session down and blocks until the run loop has exited.
// Idempotent; safe before Start.
func (s *VoiceSession) Stop(reason string) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		s.closeOnce.Do(func() { close(s.done) })
		return
	}
	s.post(func() { s.doStop(reason) })
	<-s.done
}

// post hands fn to the run goroutine. Dropped once the session is done.
func (s *VoiceSession) post(fn func()) {
	select {
	case <-s.done:
	case s.ops <- fn:
	}
}

func (s *VoiceSession) run() {
	defer s.closeOnce.Do(func() { close(s.done) })

	events := s.provider.Events()
	turnEvents := s.turns.Events()
	for !s.ending {
		select {
		case fn := <-s.ops:
			fn()
		case evt, ok := <-events:
			if !ok {
				events = nil
				if !s.ending {
					s.failSession(protocol.CodeUpstreamError, "provider event stream closed")
				}
				continue
			}
			s.onProviderEvent(evt)
		case te := <-turnEvents:
			s.onTurnEvent(te)
		}
	}
}

// ── Inbound control ────────────────────────────────────────────────────────

func (s *VoiceSession) onControl(env protocol.Envelope) {
	if s.ending {
		return
	}
	switch env.Type {
	case protocol.TypeSessionStart:
		s.sendWarning(protocol.CodeUnsupportedType, "session already started", env.MsgID)

	case protocol.TypeSessionUpdate:
		var p protocol.SessionUpdatePayload
		if err := env.DecodePayload(&p); err != nil {
			s.sendWarning(protocol.CodeBadShape, err.Error(), env.MsgID)
			return
		}
		if p.Instructions != "" {
			if err := s.provider.AppendSystemContext(p.Instructions); err != nil {
				s.log.Warn("session: instruction update failed", "error", err)
				s.sendWarning(protocol.CodeUpstreamError, "instruction update failed", env.MsgID)
			}
		}

	case protocol.TypeSessionStop:
		var p protocol.SessionStopPayload
		_ = env.DecodePayload(&p)
		reason := p.Reason
		if reason == "" {
			reason = "client_request"
		}
		s.doStop(reason)

	case protocol.TypeAudioCommit:
		var p protocol.AudioCommitPayload
		if len(env.Payload) > 0 {
			if err := env.DecodePayload(&p); err != nil {
				s.sendWarning(protocol.CodeBadShape, err.Error(), env.MsgID)
				return
			}
		}
		reason := p.Reason
		if reason == "" {
			reason = "manual_commit"
		}
		s.commit(p.CommitID, reason, p.ForceResponse, env.MsgID)

	case protocol.TypeAudioAppend:
		var p protocol.AudioAppendPayload
		if err := env.DecodePayload(&p); err != nil {
			s.sendWarning(protocol.CodeBadShape, err.Error(), env.MsgID)
			return
		}
		data, err := base64.StdEncoding.DecodeString(p.PCM16Base64)
		if err != nil {
			s.sendWarning(protocol.CodeBadShape, "pcm16_base64 is not valid base64", env.MsgID)
			return
		}
		f := audio.Frame{
			Kind:       audio.KindInput,
			Codec:      audio.CodecPCM16,
			Seq:        p.Seq,
			SampleRate: p.SampleRateHz,
			Channels:   1,
			Data:       data,
		}
		f.DurationMS = int(f.ComputedDurationMS())
		if err := f.Validate(); err != nil {
			s.sendWarning(protocol.CodeBadShape, err.Error(), env.MsgID)
			return
		}
		s.onAudio(f, false)

	case protocol.TypeTextInput:
		s.onTextInput(env)

	case protocol.TypeAssistantInterrupt:
		var p protocol.AssistantInterruptPayload
		if len(env.Payload) > 0 {
			_ = env.DecodePayload(&p)
		}
		reason := p.Reason
		if reason == "" {
			reason = "client_interrupt"
		}
		s.interrupt(reason, p.PlayedMs)

	case protocol.TypePing:
		s.sendControl(protocol.TypePong, nil, env.MsgID)

	default:
		s.sendWarning(protocol.CodeUnsupportedType,
			fmt.Sprintf("unsupported message type %q", env.Type), env.MsgID)
	}
}

func (s *VoiceSession) onTextInput(env protocol.Envelope) {
	var p protocol.TextInputPayload
	if err := env.DecodePayload(&p); err != nil {
		s.sendWarning(protocol.CodeBadShape, err.Error(), env.MsgID)
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		s.sendError(protocol.CodeEmptyText, "text.input requires non-empty text", false, env.MsgID)
		return
	}
	if s.inbound.Seen(text) {
		s.log.Debug("session: duplicate text input dropped", "text", text)
		return
	}
	if err := s.provider.CreateTextTurn(realtime.TextTurn{
		Role:           "user",
		Text:           text,
		CreateResponse: p.CreateResponse,
	}); err != nil {
		s.log.Warn("session: text turn failed", "error", err)
		s.sendWarning(protocol.CodeUpstreamError, "text turn failed", env.MsgID)
		return
	}
	if p.CreateResponse {
		s.transition(StateThinking)
	}
}

// ── Inbound audio ──────────────────────────────────────────────────────────

func (s *VoiceSession) onAudio(f audio.Frame, checkSeq bool) {
	if s.ending || s.state == StateError {
		return
	}
	s.armIdle()

	if checkSeq {
		if s.haveInputSeq && f.Seq < s.lastInputSeq {
			s.sendWarning(protocol.CodeBadShape,
				fmt.Sprintf("input seq regression: %d after %d", f.Seq, s.lastInputSeq), "")
			return
		}
		s.haveInputSeq = true
		s.lastInputSeq = f.Seq
	}

	if s.turn.id == "" {
		s.turn = turnTrack{id: uuid.NewString(), inputStartedAt: s.now()}
		s.sendMetricsTick("input_start")
	}

	dropped, err := s.pipeline.AppendInput(f)
	if err != nil {
		s.sendWarning(protocol.CodeBadShape, err.Error(), "")
		return
	}
	if dropped > 0 {
		s.sendWarning(protocol.CodeBufferOverflow,
			fmt.Sprintf("input buffer overflow, dropped %d oldest frames", dropped), "")
	}

	if s.localTurns {
		s.turns.OnFrame(f)
	}
	if err := s.provider.AppendInputAudio(f); err != nil {
		s.log.Warn("session: append input audio failed", "error", err)
	}

	if s.state == StateReady || s.state == StateInterrupted {
		s.transition(StateListening)
	}
}

// ── Commit path ────────────────────────────────────────────────────────────

// commit runs the empty-turn gate, freezes the input buffer and hands the
// turn to the provider.
func (s *VoiceSession) commit(commitID, reason string, force bool, replyTo string) {
	if s.state != StateReady && s.state != StateListening {
		s.sendWarning(protocol.CodeCommitBlockedState,
			fmt.Sprintf("cannot commit in state %s", s.state), replyTo)
		return
	}

	// Empty-turn gate: real speech, a clearly long buffer, or a transcript.
	hasSpeech := s.turns.HasSpeechSinceCommit()
	longBuffer := s.pipeline.BufferedMS() > s.set.MinUserAudioMS
	hasTranscript := s.lastSTTFinalChars >= s.set.MinTranscriptChars
	if !hasSpeech && !longBuffer && !hasTranscript {
		s.pipeline.ClearInput()
		if err := s.provider.ClearInput(); err != nil {
			s.log.Warn("session: provider clear input failed", "error", err)
		}
		s.metrics.EmptyTurnsSkipped.Add(context.Background(), 1)
		s.sendWarning(protocol.CodeEmptyTurnSkipped, "no speech detected in buffered audio", replyTo)
		return
	}

	if commitID == "" {
		commitID = uuid.NewString()
	}
	snap, verr := s.pipeline.ConsumeCommitSnapshot(commitID, reason, s.set.MinCommitMS, s.set.MinCommitBytes)
	if verr != nil {
		s.sendWarning(verr.Code, verr.Message, replyTo)
		return
	}

	s.sendControl(protocol.TypeAudioCommitted, protocol.AudioCommittedPayload{
		CommitID:      snap.CommitID,
		Reason:        snap.Reason,
		BufferedMs:    snap.BufferedMS,
		BufferedBytes: snap.Bytes,
	}, replyTo)

	s.turn.commitAt = s.now()
	s.sendMetricsTick("commit")
	s.metrics.RecordTurnCommitted(context.Background(), reason)

	s.turns.OnTurnCommitted()
	s.lastSTTFinalChars = 0
	s.transition(StateThinking)

	if err := s.provider.CommitInput(realtime.CommitRequest{
		CommitID:      snap.CommitID,
		Reason:        snap.Reason,
		BufferedMS:    snap.BufferedMS,
		ForceResponse: force,
	}); err != nil {
		s.log.Warn("session: provider commit failed", "error", err)
		s.sendWarning(protocol.CodeUpstreamError, "commit failed upstream", replyTo)
	}
}

// ── Turn manager events ────────────────────────────────────────────────────

func (s *VoiceSession) onTurnEvent(te TurnEvent) {
	if s.ending {
		return
	}
	switch te.Kind {
	case TurnEventVADStart:
		s.log.Debug("session: speech started")

	case TurnEventEOT:
		if s.state != StateListening && s.state != StateReady {
			s.log.Debug("session: end-of-turn discarded", "state", s.state)
			return
		}
		s.sendControl(protocol.TypeTurnEOT, protocol.TurnEOTPayload{
			Reason:     te.Reason,
			Confidence: te.Confidence,
			DelayMs:    te.DelayMS,
		}, "")
		s.commit("", te.Reason, true, "")

	case TurnEventBargeInConfirmed:
		s.metrics.RecordBargeIn(context.Background(), "confirmed")
		s.interrupt("barge_in", 0)

	case TurnEventBargeInCancelled:
		s.metrics.RecordBargeIn(context.Background(), "cancelled")
		s.log.Debug("session: barge-in cancelled", "speech_ms", te.SpeechMS)
	}
}

// interrupt clears queued output and cancels the active response. playedMS,
// when zero, falls back to the engine's estimate of sent output audio.
func (s *VoiceSession) interrupt(reason string, playedMS int) {
	if s.state != StateThinking && s.state != StateSpeaking {
		s.log.Debug("session: interrupt with no active response", "state", s.state)
		return
	}
	cleared := s.pipeline.ClearOutput()
	s.sendControl(protocol.TypeAudioClear, protocol.AudioClearPayload{Cleared: cleared}, "")
	s.transition(StateInterrupted)

	if playedMS <= 0 {
		playedMS = int(s.sentOutputMS)
	}
	if err := s.provider.Interrupt(realtime.InterruptRequest{
		Reason:          reason,
		TruncateAudioMS: playedMS,
	}); err != nil {
		s.log.Warn("session: provider interrupt failed", "error", err)
	}
}

// ── Provider events ────────────────────────────────────────────────────────

func (s *VoiceSession) onProviderEvent(evt realtime.Event) {
	if s.ending {
		return
	}
	switch evt.Type {
	case realtime.EventSessionReady:
		s.log.Debug("session: provider ready")

	case realtime.EventInputCommitted:
		if _, ok := s.pipeline.AckPendingCommit(); ok {
			s.log.Debug("session: commit acknowledged", "commit_id", evt.CommitID)
			return
		}
		// Provider-side VAD committed on its own; mirror it to the client.
		s.pipeline.ClearInput()
		s.sendControl(protocol.TypeAudioCommitted, protocol.AudioCommittedPayload{
			CommitID: evt.CommitID,
			Reason:   "provider_vad",
		}, "")
		s.turn.commitAt = s.now()
		s.sendMetricsTick("commit")
		s.metrics.RecordTurnCommitted(context.Background(), "provider_vad")
		s.transition(StateThinking)

	case realtime.EventSTTPartial:
		if s.turn.sttPartialAt.IsZero() {
			s.turn.sttPartialAt = s.now()
			s.sendMetricsTick("stt_partial")
		}
		s.turns.OnSTTPartial(evt.Text)
		s.sendControl(protocol.TypeSTTPartial, protocol.STTPayload{TurnID: s.turnID(evt), Text: evt.Text}, "")

	case realtime.EventSTTFinal:
		start := s.now()
		accepted := s.turns.OnSTTFinal(context.Background(), evt.Text)
		s.metrics.EOTDecisionDuration.Record(context.Background(), s.now().Sub(start).Seconds())
		if !accepted {
			return
		}
		s.turn.sttFinalAt = s.now()
		s.sendMetricsTick("stt_final")
		if !s.turn.commitAt.IsZero() {
			s.metrics.CommitToSTTFinal.Record(context.Background(),
				s.turn.sttFinalAt.Sub(s.turn.commitAt).Seconds())
		}
		s.lastSTTFinalChars = len([]rune(evt.Text))
		s.sendControl(protocol.TypeSTTFinal, protocol.STTPayload{TurnID: s.turnID(evt), Text: evt.Text}, "")

	case realtime.EventAssistantState:
		s.onAssistantState(evt)

	case realtime.EventTextDelta:
		s.sendControl(protocol.TypeAssistantTextDelta, protocol.AssistantTextPayload{
			ResponseID: evt.ResponseID, Text: evt.Text,
		}, "")

	case realtime.EventTextFinal:
		s.echo.Record(evt.Text)
		s.sendControl(protocol.TypeAssistantTextFinal, protocol.AssistantTextPayload{
			ResponseID: evt.ResponseID, Text: evt.Text,
		}, "")

	case realtime.EventAudioChunk:
		s.onAssistantAudio(evt)

	case realtime.EventWarning:
		s.metrics.RecordProviderError(context.Background(), evt.Code, false)
		s.sendWarning(protocol.ErrorCode(evt.Code), policy.Redact(evt.Message), "")

	case realtime.EventError:
		s.metrics.RecordProviderError(context.Background(), evt.Code, evt.Fatal)
		if evt.Fatal {
			s.failSession(protocol.ErrorCode(evt.Code), policy.Redact(evt.Message))
			return
		}
		s.sendError(protocol.ErrorCode(evt.Code), policy.Redact(evt.Message), false, "")
	}
}

func (s *VoiceSession) onAssistantState(evt realtime.Event) {
	s.sendControl(protocol.TypeAssistantState, protocol.AssistantStatePayload{
		State:      string(evt.Assistant),
		ResponseID: evt.ResponseID,
	}, "")

	switch evt.Assistant {
	case realtime.AssistantRequested:
		// Already in thinking after the commit; nothing else to do.

	case realtime.AssistantSpeaking:
		s.assistantActive = true
		s.sentOutputMS = 0
		s.turns.SetAssistantSpeaking(true)
		s.turns.AllowBargeIn()
		s.transition(StateSpeaking)

	case realtime.AssistantInterrupted:
		s.assistantActive = false
		s.turns.SetAssistantSpeaking(false)
		if s.state == StateSpeaking {
			// Provider-initiated cancellation (provider-VAD barge-in); no
			// local interrupt moved us off speaking.
			s.transition(StateInterrupted)
		}
		if s.state == StateInterrupted {
			s.transition(StateReady)
		}
		s.turn = turnTrack{}

	case realtime.AssistantDone:
		s.assistantActive = false
		s.turns.SetAssistantSpeaking(false)
		s.turns.OnAssistantTurnDone()
		s.transition(StateReady)
		s.turn = turnTrack{}
	}
}

func (s *VoiceSession) onAssistantAudio(evt realtime.Event) {
	if s.state == StateInterrupted {
		// Stray chunks racing the cancel; the sink already cleared.
		return
	}
	if s.turn.firstAudioAt.IsZero() && !s.turn.commitAt.IsZero() {
		s.turn.firstAudioAt = s.now()
		s.sendMetricsTick("first_audio")
		s.metrics.CommitToFirstAudio.Record(context.Background(),
			s.turn.firstAudioAt.Sub(s.turn.commitAt).Seconds())
	}

	if err := s.pipeline.AppendOutput(evt.Audio); err != nil {
		s.log.Warn("session: bad output frame", "error", err)
		return
	}
	for {
		f, ok := s.pipeline.PopOutput()
		if !ok {
			break
		}
		if err := s.transport.SendAudio(f); err != nil {
			s.log.Warn("session: send audio failed", "error", err)
			return
		}
		s.sentOutputMS += frameMS(f)
	}
}

func (s *VoiceSession) turnID(evt realtime.Event) string {
	if evt.TurnID != "" {
		return evt.TurnID
	}
	return s.turn.id
}

// ── Lifecycle ──────────────────────────────────────────────────────────────

func (s *VoiceSession) armIdle() {
	if s.idle == nil {
		s.idle = time.AfterFunc(s.set.IdleTimeout, func() {
			s.post(func() { s.onIdle() })
		})
		return
	}
	s.idle.Reset(s.set.IdleTimeout)
}

func (s *VoiceSession) onIdle() {
	if s.ending {
		return
	}
	if s.assistantActive {
		s.armIdle()
		return
	}
	s.failSession(protocol.CodeIdleTimeout,
		fmt.Sprintf("no input audio for %s", s.set.IdleTimeout))
}

// failSession is the single fatal-error path: clear output, report, stop.
func (s *VoiceSession) failSession(code protocol.ErrorCode, msg string) {
	cleared := s.pipeline.ClearOutput()
	s.sendControl(protocol.TypeAudioClear, protocol.AudioClearPayload{Cleared: cleared}, "")
	s.transition(StateError)
	s.sendError(code, msg, true, "")
	s.doStop(string(code))
}

func (s *VoiceSession) doStop(reason string) {
	if s.ending {
		return
	}
	s.ending = true
	s.log.Info("session: stopping", "reason", reason)

	if s.idle != nil {
		s.idle.Stop()
	}
	s.turns.Stop()
	if err := s.provider.Stop(reason); err != nil {
		s.log.Warn("session: provider stop failed", "error", err)
	}
	s.pipeline.ResetAll()

	if s.state != StateStopped {
		s.state = StateStopped
		s.sendControl(protocol.TypeSessionState, protocol.SessionStatePayload{State: string(StateStopped)}, "")
	}
	if err := s.transport.Close(reason); err != nil {
		s.log.Debug("session: transport close", "error", err)
	}
	if s.onClose != nil {
		s.onClose(s.id)
	}
}

// ── State machine ──────────────────────────────────────────────────────────

// transition moves to the target state and announces it. Disallowed
// transitions are logged and ignored; the caller's flow continues.
func (s *VoiceSession) transition(to State) bool {
	if s.state == to {
		return true
	}
	if !CanTransition(s.state, to) {
		s.log.Warn("session: invalid transition ignored", "from", s.state, "to", to)
		return false
	}
	s.state = to
	s.sendState(to)
	return true
}

func (s *VoiceSession) sendState(st State) {
	s.sendControl(protocol.TypeSessionState, protocol.SessionStatePayload{State: string(st)}, "")
}

// ── Outbound helpers ───────────────────────────────────────────────────────

func (s *VoiceSession) sendControl(t protocol.Type, payload any, replyTo string) {
	env, err := protocol.BuildEnvelope(t, payload, s.id, "", replyTo, s.now().UnixMilli())
	if err != nil {
		s.log.Error("session: build envelope failed", "type", t, "error", err)
		return
	}
	if err := s.transport.SendControl(env); err != nil {
		s.log.Warn("session: send control failed", "type", t, "error", err)
	}
}

func (s *VoiceSession) sendWarning(code protocol.ErrorCode, msg, replyTo string) {
	s.sendControl(protocol.TypeWarning, protocol.WarningPayload{Code: code, Message: msg}, replyTo)
}

func (s *VoiceSession) sendError(code protocol.ErrorCode, msg string, fatal bool, replyTo string) {
	s.sendControl(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: msg, Fatal: fatal}, replyTo)
}

func (s *VoiceSession) sendMetricsTick(checkpoint string) {
	p := protocol.MetricsTickPayload{
		TurnID:     s.turn.id,
		Checkpoint: checkpoint,
	}
	if !s.turn.inputStartedAt.IsZero() {
		p.InputStartedAtMs = s.turn.inputStartedAt.UnixMilli()
	}
	if !s.turn.commitAt.IsZero() {
		p.CommitAtMs = s.turn.commitAt.UnixMilli()
	}
	if !s.turn.sttPartialAt.IsZero() {
		p.STTPartialMs = s.turn.sttPartialAt.UnixMilli()
	}
	if !s.turn.sttFinalAt.IsZero() {
		p.STTFinalMs = s.turn.sttFinalAt.UnixMilli()
	}
	if !s.turn.firstAudioAt.IsZero() {
		p.FirstAudioMs = s.turn.firstAudioAt.UnixMilli()
	}
	s.sendControl(protocol.TypeMetricsTick, p, "")
}
