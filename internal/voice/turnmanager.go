package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/provider/eot"
)

// echoGuardFloor is the lowest the VAD threshold may drop while the
// assistant is speaking.
const echoGuardFloor = 0.003

// TurnEventKind identifies a turn manager event.
type TurnEventKind string

const (
	// TurnEventVADStart marks the onset of user speech.
	TurnEventVADStart TurnEventKind = "vad.start"

	// TurnEventEOT proposes committing the current user turn.
	TurnEventEOT TurnEventKind = "turn.eot"

	// TurnEventBargeInConfirmed means user speech over assistant output
	// lasted long enough to interrupt.
	TurnEventBargeInConfirmed TurnEventKind = "barge_in.confirmed"

	// TurnEventBargeInCancelled means a speech burst over assistant output
	// ended before the barge-in minimum.
	TurnEventBargeInCancelled TurnEventKind = "barge_in.cancelled"
)

// TurnEvent is one decision delivered to the session over the events channel.
type TurnEvent struct {
	Kind       TurnEventKind
	Reason     string
	Confidence float64
	DelayMS    int
	SpeechMS   int
}

// TurnConfig tunes the turn manager. The session builds it from runtime
// configuration.
type TurnConfig struct {
	VADThreshold       float64
	VADSilenceMS       int
	VADHangoverMS      int
	MinSpeechMSForTurn int
	BargeInMinMS       int

	// PostTurnSilenceMS replaces the hangover as the VAD EoT delay right
	// after an assistant turn completes, giving the caller room to continue.
	PostTurnSilenceMS int
}

// TurnManager decides when the user has finished a turn and when user speech
// over assistant output is a barge-in. Frame timing is derived from frame
// durations, not the wall clock, so decisions are deterministic.
//
// Frame and transcript inputs run on the session op chain; the EoT timer
// fires on its own goroutine, so the small amount of shared state is guarded
// by a mutex.
type TurnManager struct {
	cfg      TurnConfig
	detector *eot.Detector
	echo     *RecentBotOutputs
	log      *slog.Logger

	events chan TurnEvent

	speechActive bool
	speechMS     float64
	silenceMS    float64

	assistantSpeaking bool
	pendingBargeIn    bool
	bargeInMS         float64
	bargeInFired      bool

	hasSpeechSinceCommit bool
	firstTurn            bool
	postTurn             bool
	transcript           string

	mu       sync.Mutex
	eotTimer *time.Timer
	stopped  bool
}

// NewTurnManager creates a TurnManager. detector may be nil to disable
// semantic end-of-turn classification; echo may be nil to disable echo
// rejection.
func NewTurnManager(cfg TurnConfig, detector *eot.Detector, echo *RecentBotOutputs, log *slog.Logger) *TurnManager {
	if log == nil {
		log = slog.Default()
	}
	return &TurnManager{
		cfg:       cfg,
		detector:  detector,
		echo:      echo,
		log:       log,
		events:    make(chan TurnEvent, 16),
		firstTurn: true,
	}
}

// Events returns the channel the session drains for turn decisions.
func (t *TurnManager) Events() <-chan TurnEvent { return t.events }

// HasSpeechSinceCommit reports whether any speech frame arrived since the
// last committed turn. The session's empty-turn gate reads this.
func (t *TurnManager) HasSpeechSinceCommit() bool { return t.hasSpeechSinceCommit }

// Transcript returns the accumulated user transcript for the current turn.
func (t *TurnManager) Transcript() string { return t.transcript }

// SetAssistantSpeaking flips the echo-guard threshold and barge-in tracking.
func (t *TurnManager) SetAssistantSpeaking(speaking bool) {
	if t.assistantSpeaking && !speaking && t.pendingBargeIn {
		t.cancelBargeIn()
	}
	t.assistantSpeaking = speaking
}

// OnAssistantTurnDone marks the boundary after a completed assistant turn.
// The next VAD end-of-turn waits PostTurnSilenceMS instead of the hangover.
func (t *TurnManager) OnAssistantTurnDone() {
	t.postTurn = true
}

// OnFrame feeds one input frame through the VAD.
func (t *TurnManager) OnFrame(f audio.Frame) {
	dur := frameMS(f)
	rms := audio.RMS(f.Data)

	threshold := t.cfg.VADThreshold
	if t.assistantSpeaking {
		threshold = max(echoGuardFloor, t.cfg.VADThreshold*0.55)
	}
	isSpeech := rms >= threshold

	if isSpeech {
		t.hasSpeechSinceCommit = true
		t.silenceMS = 0
		if !t.speechActive {
			t.speechActive = true
			t.speechMS = 0
			t.emit(TurnEvent{Kind: TurnEventVADStart})
		}
		t.speechMS += dur

		if t.assistantSpeaking && !t.bargeInFired {
			if !t.pendingBargeIn {
				t.pendingBargeIn = true
				t.bargeInMS = 0
			}
			t.bargeInMS += dur
			if int(t.bargeInMS) >= t.cfg.BargeInMinMS {
				t.pendingBargeIn = false
				t.bargeInFired = true
				t.emit(TurnEvent{Kind: TurnEventBargeInConfirmed, Reason: "barge_in", SpeechMS: int(t.bargeInMS)})
			}
		}
		return
	}

	if !t.speechActive {
		return
	}
	t.silenceMS += dur
	if int(t.silenceMS) < t.cfg.VADSilenceMS+t.cfg.VADHangoverMS {
		return
	}

	// Speech segment ended.
	t.speechActive = false
	t.silenceMS = 0
	if t.pendingBargeIn {
		t.cancelBargeIn()
	}
	if int(t.speechMS) >= t.cfg.MinSpeechMSForTurn && !t.assistantSpeaking {
		delay := t.cfg.VADHangoverMS
		if t.postTurn && t.cfg.PostTurnSilenceMS > delay {
			delay = t.cfg.PostTurnSilenceMS
		}
		t.ScheduleEOT("vad_silence", 0.6, delay)
	}
}

// OnSTTPartial extends the turn transcript with an interim hypothesis.
func (t *TurnManager) OnSTTPartial(text string) {
	t.transcript = text
}

// OnSTTFinal folds a final transcript into the turn and re-arms the EoT
// timer from the semantic classifier's verdict. Transcripts that look like
// the assistant's own speech echoing back are dropped; the return value
// reports whether the transcript was accepted.
func (t *TurnManager) OnSTTFinal(ctx context.Context, text string) bool {
	if t.echo != nil && t.echo.IsLikelyBotEcho(text) {
		t.log.Debug("turn: dropped echo transcript", "text", text)
		return false
	}
	t.transcript = text

	if t.detector == nil {
		return true
	}
	dec := t.detector.Classify(ctx, text, t.firstTurn)
	t.ScheduleEOT("semantic_eot:"+string(dec.Status), dec.Confidence, dec.RecommendedDelayMS)
	return true
}

// ScheduleEOT (re)arms the single end-of-turn timer. A later call replaces
// any armed timer.
func (t *TurnManager) ScheduleEOT(reason string, confidence float64, delayMS int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.eotTimer != nil {
		t.eotTimer.Stop()
	}
	t.eotTimer = time.AfterFunc(time.Duration(delayMS)*time.Millisecond, func() {
		t.mu.Lock()
		fire := !t.stopped
		t.mu.Unlock()
		if fire {
			t.emit(TurnEvent{Kind: TurnEventEOT, Reason: reason, Confidence: confidence, DelayMS: delayMS})
		}
	})
}

// CancelEOT disarms a pending end-of-turn timer.
func (t *TurnManager) CancelEOT() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eotTimer != nil {
		t.eotTimer.Stop()
		t.eotTimer = nil
	}
}

// OnTurnCommitted resets per-turn tracking after the session commits.
func (t *TurnManager) OnTurnCommitted() {
	t.CancelEOT()
	t.hasSpeechSinceCommit = false
	t.firstTurn = false
	t.postTurn = false
	t.transcript = ""
	t.speechActive = false
	t.speechMS = 0
	t.silenceMS = 0
}

// Reset clears all turn state, including barge-in tracking.
func (t *TurnManager) Reset() {
	t.CancelEOT()
	t.speechActive = false
	t.speechMS = 0
	t.silenceMS = 0
	t.pendingBargeIn = false
	t.bargeInMS = 0
	t.bargeInFired = false
	t.hasSpeechSinceCommit = false
	t.transcript = ""
	t.postTurn = false
}

// Stop disarms timers and stops delivering events. Idempotent.
func (t *TurnManager) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.eotTimer != nil {
		t.eotTimer.Stop()
		t.eotTimer = nil
	}
}

// AllowBargeIn re-enables barge-in detection for the next assistant turn.
func (t *TurnManager) AllowBargeIn() {
	t.bargeInFired = false
	t.pendingBargeIn = false
	t.bargeInMS = 0
}

func (t *TurnManager) cancelBargeIn() {
	t.pendingBargeIn = false
	ms := int(t.bargeInMS)
	t.bargeInMS = 0
	t.emit(TurnEvent{Kind: TurnEventBargeInCancelled, SpeechMS: ms})
}

// emit never blocks the caller; if the session is too far behind, the event
// is dropped with a warning.
func (t *TurnManager) emit(evt TurnEvent) {
	select {
	case t.events <- evt:
	default:
		t.log.Warn("turn: event dropped, session lagging", "kind", evt.Kind)
	}
}
