// Package openai implements the realtime.Provider interface for OpenAI's
// Realtime API.
//
// It maintains a bidirectional WebSocket connection to the Realtime endpoint
// and translates the provider's event stream into the engine's normalized
// events. Input audio is resampled to 24 kHz mono and base64-encoded into
// input_audio_buffer.append messages; output audio deltas are reassembled
// into fixed-duration PCM16 chunks. The adapter enforces the provider's
// one-active-response constraint with a coalescing response-create queue and
// guards interrupts with a watchdog in case response.done never arrives.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime"
)

// Compile-time assertion that Adapter satisfies realtime.Provider.
var _ realtime.Provider = (*Adapter)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// providerInputRate is the PCM16 sample rate the Realtime API expects.
	providerInputRate = 24000

	// interruptHold is how long after an interrupt the adapter refuses to
	// dispatch response.create, and how long it waits for the provider to
	// confirm the cancellation before giving up.
	interruptHold = 1400 * time.Millisecond

	defaultOutputChunkMS = 90
	minOutputChunkMS     = 40
	maxOutputChunkMS     = 320

	eventBuffer = 256
)

// recoverableCodes are provider error codes that degrade to warnings.
var recoverableCodes = map[string]bool{
	"invalid_value":                            true,
	"unknown_parameter":                        true,
	"invalid_request_error":                    true,
	"conversation_already_has_active_response": true,
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithModel sets the Realtime model used for the session.
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

// ── Adapter ────────────────────────────────────────────────────────────────────

// Adapter implements realtime.Provider against OpenAI's Realtime API. Create
// one per session with New, then call Start.
type Adapter struct {
	apiKey  string
	model   string
	baseURL string
	log     *slog.Logger

	events chan realtime.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn

	started bool
	stopped bool

	// pendingCommits holds commit ids in send order; the oldest is popped on
	// each input_audio_buffer.committed ack.
	pendingCommits []pendingCommit

	// Response lifecycle. responseActive is true between response.created and
	// response.done. createQueued remembers that a response.create could not
	// be dispatched; consecutive requests coalesce into it.
	responseActive bool
	createQueued   bool
	responseID     string
	itemID         string
	contentIndex   int

	// interruptUntil blocks response.create dispatch after an interrupt.
	// holdTimer drains a request queued inside that window once it passes.
	interruptInFlight bool
	interruptUntil    time.Time
	watchdog          *time.Timer
	holdTimer         *time.Timer

	chunker *outputChunker

	// sttPartial accumulates user transcription deltas per conversation item.
	sttPartial map[string]string

	// assistantText accumulates the active response's text when the provider
	// sends only deltas.
	assistantText string

	now func() time.Time
}

type pendingCommit struct {
	commitID      string
	forceResponse bool
}

// New creates an Adapter with the given API key and options.
func New(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		log:        slog.Default(),
		events:     make(chan realtime.Event, eventBuffer),
		sttPartial: make(map[string]string),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Events implements realtime.Provider.
func (a *Adapter) Events() <-chan realtime.Event { return a.events }

// Start dials the Realtime endpoint, configures the session and blocks until
// the provider acknowledges with session.updated or ctx expires. The caller
// bounds the handshake via ctx.
func (a *Adapter) Start(ctx context.Context, cfg realtime.SessionConfig) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("openai realtime: already started")
	}
	a.started = true
	chunkMS := cfg.OutputChunkMS
	if chunkMS == 0 {
		chunkMS = defaultOutputChunkMS
	}
	if chunkMS < minOutputChunkMS || chunkMS > maxOutputChunkMS {
		a.mu.Unlock()
		return fmt.Errorf("openai realtime: output_chunk_ms %d out of range [%d,%d]", chunkMS, minOutputChunkMS, maxOutputChunkMS)
	}
	a.chunker = newOutputChunker(chunkMS, providerInputRate)
	a.mu.Unlock()

	wsURL := fmt.Sprintf("%s?model=%s", a.baseURL, a.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + a.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("openai realtime: dial: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.conn = conn
	a.ctx = runCtx
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: sessionParams(cfg)}); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return fmt.Errorf("openai realtime: session update: %w", err)
	}

	// Consume events inline until the configuration ack arrives; anything
	// else that shows up early is dispatched as usual.
	for {
		var evt serverEvent
		if err := a.readEvent(ctx, conn, &evt); err != nil {
			cancel()
			conn.Close(websocket.StatusInternalError, "handshake failed")
			return fmt.Errorf("openai realtime: handshake: %w", err)
		}
		if evt.Type == "session.updated" {
			break
		}
		if evt.Type == "error" {
			msg := "unknown error"
			if evt.Error != nil {
				msg = evt.Error.Message
			}
			cancel()
			conn.Close(websocket.StatusInternalError, "handshake rejected")
			return fmt.Errorf("openai realtime: handshake rejected: %s", msg)
		}
		a.handleServerEvent(&evt)
	}

	go a.receiveLoop()

	a.emit(realtime.Event{Type: realtime.EventSessionReady})
	return nil
}

func (a *Adapter) readEvent(ctx context.Context, conn *websocket.Conn, evt *serverEvent) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, evt)
}

// AppendInputAudio implements realtime.Provider. The frame is converted to
// 24 kHz mono before encoding.
func (a *Adapter) AppendInputAudio(frame audio.Frame) error {
	norm := audio.Normalize(frame, providerInputRate)
	return a.write(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(norm.Data),
	})
}

// CommitInput implements realtime.Provider. The commit id is remembered and
// echoed on the provider's ack; force_response requests a response once the
// ack arrives.
func (a *Adapter) CommitInput(req realtime.CommitRequest) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("openai realtime: session closed")
	}
	a.pendingCommits = append(a.pendingCommits, pendingCommit{req.CommitID, req.ForceResponse})
	a.mu.Unlock()

	return a.write(typeOnlyMessage{Type: "input_audio_buffer.commit"})
}

// ClearInput implements realtime.Provider.
func (a *Adapter) ClearInput() error {
	a.mu.Lock()
	a.pendingCommits = nil
	a.mu.Unlock()
	return a.write(typeOnlyMessage{Type: "input_audio_buffer.clear"})
}

// Interrupt implements realtime.Provider. It truncates the active assistant
// item at the played offset, cancels the response, and arms the watchdog in
// case the provider never confirms.
func (a *Adapter) Interrupt(req realtime.InterruptRequest) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("openai realtime: session closed")
	}
	itemID := a.itemID
	contentIndex := a.contentIndex
	a.interruptInFlight = true
	a.interruptUntil = a.now().Add(interruptHold)
	if a.watchdog != nil {
		a.watchdog.Stop()
	}
	a.watchdog = time.AfterFunc(interruptHold, a.onWatchdog)
	if a.chunker != nil {
		a.chunker.reset()
	}
	a.mu.Unlock()

	if itemID != "" {
		if err := a.write(truncateMessage{
			Type:         "conversation.item.truncate",
			ItemID:       itemID,
			ContentIndex: contentIndex,
			AudioEndMS:   req.TruncateAudioMS,
		}); err != nil {
			return err
		}
	}
	return a.write(typeOnlyMessage{Type: "response.cancel"})
}

// onWatchdog fires when the provider fails to confirm a cancellation within
// interruptHold. The adapter stops waiting and lets queued work proceed.
func (a *Adapter) onWatchdog() {
	a.mu.Lock()
	if !a.interruptInFlight {
		a.mu.Unlock()
		return
	}
	a.interruptInFlight = false
	a.responseActive = false
	dispatch := a.createQueued
	if dispatch {
		a.createQueued = false
	}
	a.mu.Unlock()

	a.log.Warn("openai realtime: interrupt watchdog fired without response.done")
	if dispatch {
		a.dispatchResponseCreate()
	}
}

// CreateTextTurn implements realtime.Provider.
func (a *Adapter) CreateTextTurn(req realtime.TextTurn) error {
	role := req.Role
	switch role {
	case "assistant", "system":
	default:
		role = "user"
	}
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	msg := createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []conversationPart{{Type: partType, Text: req.Text}},
		},
	}
	if err := a.write(msg); err != nil {
		return err
	}
	if req.CreateResponse {
		a.requestResponse()
	}
	return nil
}

// AppendSystemContext implements realtime.Provider.
func (a *Adapter) AppendSystemContext(text string) error {
	return a.CreateTextTurn(realtime.TextTurn{Role: "system", Text: text})
}

// Stop implements realtime.Provider. Idempotent.
func (a *Adapter) Stop(reason string) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	if a.watchdog != nil {
		a.watchdog.Stop()
	}
	if a.holdTimer != nil {
		a.holdTimer.Stop()
	}
	conn := a.conn
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, reason)
	} else {
		// Never started; nothing reads the socket, so close events here.
		close(a.events)
	}
	return nil
}

// ── Response-create queue ──────────────────────────────────────────────────────

// requestResponse asks for a model response, deferring the dispatch while a
// response is active or an interrupt was just issued. Consecutive blocked
// requests coalesce into one. A request blocked only by the post-interrupt
// hold arms a timer for the remainder of the window: with the response
// already done and the watchdog stopped, no other path would drain the queue.
func (a *Adapter) requestResponse() {
	a.mu.Lock()
	if a.responseActive || a.interruptInFlight {
		a.createQueued = true
		a.mu.Unlock()
		return
	}
	if wait := a.interruptUntil.Sub(a.now()); wait > 0 {
		a.createQueued = true
		if a.holdTimer == nil {
			a.holdTimer = time.AfterFunc(wait, a.onHoldExpired)
		}
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.dispatchResponseCreate()
}

// onHoldExpired fires when the post-interrupt hold window passes with a
// request still queued. A response or interrupt that started in the meantime
// takes over draining; a fresh interrupt re-arms for the extended window.
func (a *Adapter) onHoldExpired() {
	a.mu.Lock()
	a.holdTimer = nil
	if !a.createQueued || a.responseActive || a.interruptInFlight {
		a.mu.Unlock()
		return
	}
	if wait := a.interruptUntil.Sub(a.now()); wait > 0 {
		a.holdTimer = time.AfterFunc(wait, a.onHoldExpired)
		a.mu.Unlock()
		return
	}
	a.createQueued = false
	a.mu.Unlock()
	a.dispatchResponseCreate()
}

func (a *Adapter) dispatchResponseCreate() {
	if err := a.write(typeOnlyMessage{Type: "response.create"}); err != nil {
		a.log.Warn("openai realtime: response.create failed", "err", err)
		return
	}
	a.emit(realtime.Event{Type: realtime.EventAssistantState, Assistant: realtime.AssistantRequested})
}

// ── Receive path ───────────────────────────────────────────────────────────────

// receiveLoop reads events until the socket dies. It owns the events channel
// and closes it on exit.
func (a *Adapter) receiveLoop() {
	defer close(a.events)

	a.mu.Lock()
	conn, ctx := a.conn, a.ctx
	a.mu.Unlock()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			a.mu.Lock()
			stopped := a.stopped
			a.mu.Unlock()
			if stopped || ctx.Err() != nil {
				return
			}
			a.emit(realtime.Event{
				Type:    realtime.EventError,
				Code:    "upstream_error",
				Message: fmt.Sprintf("socket read: %v", err),
				Fatal:   true,
			})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			a.log.Debug("openai realtime: unparseable event", "err", err)
			continue
		}
		a.handleServerEvent(&evt)
	}
}

func (a *Adapter) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "session.created", "session.updated":
		// Handshake handles these; late re-acks are ignored.

	case "input_audio_buffer.speech_started", "input_audio_buffer.speech_stopped":
		// Provider-side VAD markers; the engine runs its own turn taking.

	case "input_audio_buffer.committed":
		a.handleCommitted()

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" || evt.ItemID == "" {
			return
		}
		a.mu.Lock()
		a.sttPartial[evt.ItemID] += evt.Delta
		text := a.sttPartial[evt.ItemID]
		a.mu.Unlock()
		a.emit(realtime.Event{Type: realtime.EventSTTPartial, TurnID: evt.ItemID, Text: text})

	case "conversation.item.input_audio_transcription.completed":
		a.mu.Lock()
		delete(a.sttPartial, evt.ItemID)
		a.mu.Unlock()
		a.emit(realtime.Event{Type: realtime.EventSTTFinal, TurnID: evt.ItemID, Text: evt.Transcript})

	case "response.created":
		a.handleResponseCreated(evt)

	case "response.output_item.added":
		a.mu.Lock()
		if evt.Item != nil {
			a.itemID = evt.Item.ID
		}
		a.mu.Unlock()

	case "response.content_part.added":
		a.mu.Lock()
		a.contentIndex = evt.ContentIndex
		a.mu.Unlock()

	case "response.text.delta", "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		a.mu.Lock()
		a.assistantText += evt.Delta
		respID := a.responseID
		a.mu.Unlock()
		a.emit(realtime.Event{Type: realtime.EventTextDelta, ResponseID: respID, Text: evt.Delta})

	case "response.text.done", "response.audio_transcript.done":
		a.mu.Lock()
		text := evt.Text
		if text == "" {
			text = evt.Transcript
		}
		if text == "" {
			text = a.assistantText
		}
		a.assistantText = ""
		respID := a.responseID
		a.mu.Unlock()
		a.emit(realtime.Event{Type: realtime.EventTextFinal, ResponseID: respID, Text: text})

	case "response.audio.delta":
		a.handleAudioDelta(evt)

	case "response.audio.done":
		a.flushAudio()

	case "response.done":
		a.handleResponseDone(evt)

	case "error":
		a.handleErrorEvent(evt)

	default:
		a.log.Debug("openai realtime: unhandled event", "type", evt.Type)
	}
}

func (a *Adapter) handleCommitted() {
	a.mu.Lock()
	if len(a.pendingCommits) == 0 {
		a.mu.Unlock()
		a.log.Warn("openai realtime: unexpected input_audio_buffer.committed")
		return
	}
	rec := a.pendingCommits[0]
	a.pendingCommits = a.pendingCommits[1:]
	a.mu.Unlock()

	a.emit(realtime.Event{Type: realtime.EventInputCommitted, CommitID: rec.commitID})
	if rec.forceResponse {
		a.requestResponse()
	}
}

func (a *Adapter) handleResponseCreated(evt *serverEvent) {
	a.mu.Lock()
	a.responseActive = true
	a.assistantText = ""
	if evt.Response != nil {
		a.responseID = evt.Response.ID
	}
	respID := a.responseID
	a.chunker.startResponse()
	a.mu.Unlock()

	a.emit(realtime.Event{Type: realtime.EventAssistantState, ResponseID: respID, Assistant: realtime.AssistantSpeaking})
}

func (a *Adapter) handleAudioDelta(evt *serverEvent) {
	if evt.Delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
	if err != nil || len(pcm) == 0 {
		return
	}
	a.mu.Lock()
	frames := a.chunker.push(pcm)
	a.mu.Unlock()
	a.emitAudio(frames)
}

func (a *Adapter) flushAudio() {
	a.mu.Lock()
	frames := a.chunker.flush()
	a.mu.Unlock()
	a.emitAudio(frames)
}

func (a *Adapter) emitAudio(frames []audio.Frame) {
	a.mu.Lock()
	respID := a.responseID
	a.mu.Unlock()
	for _, f := range frames {
		a.emit(realtime.Event{Type: realtime.EventAudioChunk, ResponseID: respID, Audio: f})
	}
}

func (a *Adapter) handleResponseDone(evt *serverEvent) {
	a.flushAudio()

	a.mu.Lock()
	a.responseActive = false
	a.interruptInFlight = false
	if a.watchdog != nil {
		a.watchdog.Stop()
		a.watchdog = nil
	}
	respID := a.responseID
	status := ""
	if evt.Response != nil {
		if evt.Response.ID != "" {
			respID = evt.Response.ID
		}
		status = evt.Response.Status
	}
	a.responseID = ""
	a.itemID = ""
	a.contentIndex = 0
	dispatch := a.createQueued && !a.now().Before(a.interruptUntil)
	if dispatch {
		a.createQueued = false
	} else if a.createQueued && a.holdTimer == nil {
		a.holdTimer = time.AfterFunc(a.interruptUntil.Sub(a.now()), a.onHoldExpired)
	}
	a.mu.Unlock()

	state := realtime.AssistantDone
	switch status {
	case "cancelled", "interrupted", "incomplete":
		state = realtime.AssistantInterrupted
	}
	a.emit(realtime.Event{Type: realtime.EventAssistantState, ResponseID: respID, Assistant: state})

	if dispatch {
		a.dispatchResponseCreate()
	}
}

func (a *Adapter) handleErrorEvent(evt *serverEvent) {
	code, msg := "upstream_error", "unknown error"
	if evt.Error != nil {
		if evt.Error.Code != "" {
			code = evt.Error.Code
		} else if evt.Error.Type != "" {
			code = evt.Error.Type
		}
		if evt.Error.Message != "" {
			msg = evt.Error.Message
		}
	}

	if recoverableCodes[code] {
		if code == "conversation_already_has_active_response" {
			// Our bookkeeping raced the provider's. Requeue and let the
			// response.done of the actually-active response dispatch it.
			a.mu.Lock()
			a.responseActive = true
			a.createQueued = true
			a.mu.Unlock()
		}
		a.emit(realtime.Event{Type: realtime.EventWarning, Code: code, Message: msg})
		return
	}
	a.emit(realtime.Event{Type: realtime.EventError, Code: code, Message: msg})
}

// ── Plumbing ───────────────────────────────────────────────────────────────────

func (a *Adapter) emit(evt realtime.Event) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	select {
	case a.events <- evt:
	case <-ctx.Done():
	}
}

func (a *Adapter) write(v any) error {
	a.mu.Lock()
	conn, ctx, stopped := a.conn, a.ctx, a.stopped
	a.mu.Unlock()
	if stopped || conn == nil {
		return fmt.Errorf("openai realtime: session closed")
	}
	return a.writeJSONConn(ctx, conn, v)
}

func (a *Adapter) writeJSON(ctx context.Context, v any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	return a.writeJSONConn(ctx, conn, v)
}

func (a *Adapter) writeJSONConn(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai realtime: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
