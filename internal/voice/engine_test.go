package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aurelia-labs/voicecore/pkg/protocol"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime/mock"
)

func newTestEngine(t *testing.T, factory ProviderFactory) *VoiceEngine {
	t.Helper()
	return NewVoiceEngine(Settings{}, factory,
		WithEngineLogger(quietLogger()),
		WithEngineMetrics(testMetrics(t)),
	)
}

func TestEngine_CreateAndStopSession(t *testing.T) {
	t.Parallel()
	p := mock.New()
	e := newTestEngine(t, func(string) realtime.Provider { return p })
	tr := newFakeTransport()

	s, err := e.CreateSession(context.Background(), tr, protocol.SessionStartPayload{}, "m-start")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	t.Cleanup(func() { s.Stop("test_cleanup") })

	started := waitEnv(t, tr, protocol.TypeSessionStarted)
	var sp protocol.SessionStartedPayload
	if err := started.DecodePayload(&sp); err != nil {
		t.Fatalf("decode session.started: %v", err)
	}
	if sp.SessionID != s.ID() {
		t.Fatalf("session.started id = %q, want %q", sp.SessionID, s.ID())
	}
	if got, ok := e.Session(s.ID()); !ok || got != s {
		t.Fatal("session not registered")
	}
	if e.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", e.ActiveSessions())
	}

	s.Stop("client_request")
	waitUntil(t, "session removed from registry", func() bool { return e.ActiveSessions() == 0 })
	if _, ok := e.Session(s.ID()); ok {
		t.Fatal("stopped session still registered")
	}
}

func TestEngine_StartFailureLeavesNothingRegistered(t *testing.T) {
	t.Parallel()
	p := mock.New()
	p.StartErr = errors.New("upstream refused")
	e := newTestEngine(t, func(string) realtime.Provider { return p })

	if _, err := e.CreateSession(context.Background(), newFakeTransport(), protocol.SessionStartPayload{}, ""); err == nil {
		t.Fatal("CreateSession should fail when the provider cannot start")
	}
	if e.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions = %d, want 0", e.ActiveSessions())
	}
}

func TestEngine_FatalErrorRemovesSession(t *testing.T) {
	t.Parallel()
	p := mock.New()
	e := newTestEngine(t, func(string) realtime.Provider { return p })
	tr := newFakeTransport()

	s, err := e.CreateSession(context.Background(), tr, protocol.SessionStartPayload{}, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	p.Emit(realtime.Event{Type: realtime.EventError, Code: "server_error", Fatal: true})
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after fatal error")
	}
	waitUntil(t, "session removed from registry", func() bool { return e.ActiveSessions() == 0 })
}

func TestEngine_ShutdownStopsAllSessions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, func(string) realtime.Provider { return mock.New() })

	var sessions []*VoiceSession
	for i := 0; i < 3; i++ {
		s, err := e.CreateSession(context.Background(), newFakeTransport(), protocol.SessionStartPayload{}, "")
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		sessions = append(sessions, s)
	}
	if e.ActiveSessions() != 3 {
		t.Fatalf("ActiveSessions = %d, want 3", e.ActiveSessions())
	}

	e.Shutdown("server_shutdown")
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("session %s did not stop on shutdown", s.ID())
		}
	}
	if e.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions after shutdown = %d, want 0", e.ActiveSessions())
	}
}

func TestSessionManager_Registry(t *testing.T) {
	t.Parallel()
	m := NewSessionManager(quietLogger(), testMetrics(t))

	s := NewSession("a", Settings{}, newFakeTransport(), mock.New(),
		WithLogger(quietLogger()), WithMetrics(testMetrics(t)))
	if !m.Add(s) {
		t.Fatal("first Add should succeed")
	}
	if m.Add(s) {
		t.Fatal("duplicate Add should fail")
	}
	if got, ok := m.Get("a"); !ok || got != s {
		t.Fatal("Get should return the registered session")
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}

	m.Remove("a")
	m.Remove("a") // second removal is a no-op
	if m.Len() != 0 {
		t.Fatalf("Len after remove = %d, want 0", m.Len())
	}
}
