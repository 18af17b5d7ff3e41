// Package mock provides a test double for the realtime.Provider interface.
//
// Tests own the event channel: pre-populate or feed it with Emit to script
// the provider side of a session, then inspect the recorded calls to verify
// what the engine sent upstream.
//
// Example:
//
//	p := mock.New()
//	_ = p.Start(ctx, cfg)
//	p.Emit(realtime.Event{Type: realtime.EventInputCommitted, CommitID: "c1"})
package mock

import (
	"context"
	"sync"

	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime"
)

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// StartCall records a single invocation of Provider.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Start.
	Cfg realtime.SessionConfig
}

// AppendCall records a single invocation of AppendInputAudio.
type AppendCall struct {
	// Frame is the frame passed to AppendInputAudio; Data is a copy.
	Frame audio.Frame
}

// Provider is a scripted mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events. New creates it buffered;
	// the test owns it and may close it to simulate provider shutdown.
	EventsCh chan realtime.Event

	// ReadyOnStart, when true, makes Start emit a session.ready event the
	// way real adapters do. Set by New.
	ReadyOnStart bool

	// --- Configurable errors ---

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// AppendErr, if non-nil, is returned by every AppendInputAudio call.
	AppendErr error

	// CommitErr, if non-nil, is returned by every CommitInput call.
	CommitErr error

	// InterruptErr, if non-nil, is returned by every Interrupt call.
	InterruptErr error

	// --- Call records ---

	// StartCalls records every call to Start in order.
	StartCalls []StartCall

	// AppendCalls records every call to AppendInputAudio in order.
	AppendCalls []AppendCall

	// CommitCalls records every call to CommitInput in order.
	CommitCalls []realtime.CommitRequest

	// ClearInputCallCount is the number of times ClearInput was called.
	ClearInputCallCount int

	// InterruptCalls records every call to Interrupt in order.
	InterruptCalls []realtime.InterruptRequest

	// TextTurnCalls records every call to CreateTextTurn in order.
	TextTurnCalls []realtime.TextTurn

	// SystemContextCalls records every text passed to AppendSystemContext.
	SystemContextCalls []string

	// StopCalls records every reason passed to Stop.
	StopCalls []string

	closed bool
}

// New returns a Provider with a buffered event channel that emits
// session.ready on Start.
func New() *Provider {
	return &Provider{
		EventsCh:     make(chan realtime.Event, 64),
		ReadyOnStart: true,
	}
}

// Start records the call and returns StartErr.
func (p *Provider) Start(ctx context.Context, cfg realtime.SessionConfig) error {
	p.mu.Lock()
	p.StartCalls = append(p.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	ready := p.ReadyOnStart && p.StartErr == nil
	err := p.StartErr
	p.mu.Unlock()

	if ready {
		p.Emit(realtime.Event{Type: realtime.EventSessionReady})
	}
	return err
}

// Events returns EventsCh.
func (p *Provider) Events() <-chan realtime.Event { return p.EventsCh }

// Emit delivers one event to the session under test. No-op after the channel
// was closed via CloseEvents.
func (p *Provider) Emit(evt realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.EventsCh <- evt
}

// CloseEvents closes the event channel, simulating provider shutdown.
// Idempotent.
func (p *Provider) CloseEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.EventsCh)
}

// AppendInputAudio records the call and returns AppendErr.
func (p *Provider) AppendInputAudio(frame audio.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := frame
	cp.Data = append([]byte(nil), frame.Data...)
	p.AppendCalls = append(p.AppendCalls, AppendCall{Frame: cp})
	return p.AppendErr
}

// CommitInput records the call and returns CommitErr.
func (p *Provider) CommitInput(req realtime.CommitRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CommitCalls = append(p.CommitCalls, req)
	return p.CommitErr
}

// ClearInput records the call.
func (p *Provider) ClearInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClearInputCallCount++
	return nil
}

// Interrupt records the call and returns InterruptErr.
func (p *Provider) Interrupt(req realtime.InterruptRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InterruptCalls = append(p.InterruptCalls, req)
	return p.InterruptErr
}

// CreateTextTurn records the call.
func (p *Provider) CreateTextTurn(req realtime.TextTurn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TextTurnCalls = append(p.TextTurnCalls, req)
	return nil
}

// AppendSystemContext records the call.
func (p *Provider) AppendSystemContext(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SystemContextCalls = append(p.SystemContextCalls, text)
	return nil
}

// Stop records the reason and closes the event channel.
func (p *Provider) Stop(reason string) error {
	p.mu.Lock()
	p.StopCalls = append(p.StopCalls, reason)
	p.mu.Unlock()
	p.CloseEvents()
	return nil
}

// Commits returns a snapshot of CommitCalls. Thread-safe.
func (p *Provider) Commits() []realtime.CommitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.CommitRequest(nil), p.CommitCalls...)
}

// Interrupts returns a snapshot of InterruptCalls. Thread-safe.
func (p *Provider) Interrupts() []realtime.InterruptRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.InterruptRequest(nil), p.InterruptCalls...)
}

// TextTurns returns a snapshot of TextTurnCalls. Thread-safe.
func (p *Provider) TextTurns() []realtime.TextTurn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.TextTurn(nil), p.TextTurnCalls...)
}

// Stops returns a snapshot of StopCalls. Thread-safe.
func (p *Provider) Stops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.StopCalls...)
}

// ClearInputs returns ClearInputCallCount. Thread-safe.
func (p *Provider) ClearInputs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ClearInputCallCount
}
