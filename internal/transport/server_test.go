package transport_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/aurelia-labs/voicecore/internal/observe"
	"github.com/aurelia-labs/voicecore/internal/transport"
	"github.com/aurelia-labs/voicecore/internal/voice"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime"
	"github.com/aurelia-labs/voicecore/pkg/provider/realtime/mock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires a transport server over an engine backed by mock
// providers.
func newTestServer(t *testing.T, cfg transport.Config) (*httptest.Server, *voice.VoiceEngine) {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	engine := voice.NewVoiceEngine(voice.Settings{},
		func(string) realtime.Provider { return mock.New() },
		voice.WithEngineLogger(quietLogger()),
		voice.WithEngineMetrics(metrics),
	)
	srv := transport.NewServer(engine, cfg, quietLogger())
	mux := http.NewServeMux()
	srv.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		engine.Shutdown("test_cleanup")
		ts.Close()
	})
	return ts, engine
}

func issueTicket(t *testing.T, ts *httptest.Server, apiKey string) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/tickets", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("ticket request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ticket status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Ticket      string `json:"ticket"`
		ExpiresAtMs int64  `json:"expires_at_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if body.Ticket == "" || body.ExpiresAtMs == 0 {
		t.Fatalf("ticket body = %+v", body)
	}
	return body.Ticket
}

func wsURL(ts *httptest.Server, ticket string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice?ticket=" + ticket
}

func dial(t *testing.T, ts *httptest.Server, ticket string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, ticket), &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEnv(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v, want text", typ)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func waitForType(t *testing.T, conn *websocket.Conn, want protocol.Type) protocol.Envelope {
	t.Helper()
	for i := 0; i < 32; i++ {
		env := readEnv(t, conn)
		if env.Type == want {
			return env
		}
	}
	t.Fatalf("never received %s", want)
	return protocol.Envelope{}
}

func writeEnv(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestTicketEndpoint_Auth(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, transport.Config{APIKeys: []string{"k1"}})

	// No credentials.
	resp, err := ts.Client().Post(ts.URL+"/v1/tickets", "", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Wrong key.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/tickets", nil)
	req.Header.Set("Authorization", "Bearer nope")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Valid key.
	issueTicket(t, ts, "k1")
}

func TestVoiceHandshake_FullFlow(t *testing.T) {
	t.Parallel()
	ts, engine := newTestServer(t, transport.Config{APIKeys: []string{"k1"}})

	conn := dial(t, ts, issueTicket(t, ts, "k1"))
	if got := conn.Subprotocol(); got != protocol.Subprotocol {
		t.Fatalf("negotiated subprotocol = %q, want %q", got, protocol.Subprotocol)
	}

	welcome := readEnv(t, conn)
	if welcome.Type != protocol.TypeWelcome {
		t.Fatalf("first message = %s, want welcome", welcome.Type)
	}

	start, err := protocol.BuildEnvelope(protocol.TypeSessionStart, protocol.SessionStartPayload{
		Voice: "alloy",
	}, "", "m-start", "", time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("build session.start: %v", err)
	}
	writeEnv(t, conn, start)

	started := waitForType(t, conn, protocol.TypeSessionStarted)
	if started.ReplyTo != "m-start" {
		t.Fatalf("session.started reply_to = %q", started.ReplyTo)
	}
	var sp protocol.SessionStartedPayload
	if err := started.DecodePayload(&sp); err != nil {
		t.Fatalf("decode session.started: %v", err)
	}
	if _, ok := engine.Session(sp.SessionID); !ok {
		t.Fatal("session not registered with the engine")
	}
	waitForType(t, conn, protocol.TypeSessionState)

	// Ping routes through the session.
	ping, _ := protocol.BuildEnvelope(protocol.TypePing, nil, sp.SessionID, "m-ping", "", time.Now().UnixMilli())
	writeEnv(t, conn, ping)
	pong := waitForType(t, conn, protocol.TypePong)
	if pong.ReplyTo != "m-ping" {
		t.Fatalf("pong reply_to = %q", pong.ReplyTo)
	}
}

func TestVoiceHandshake_RequiresTicket(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, transport.Config{APIKeys: []string{"k1"}})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(ts, "bogus"), &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err == nil {
		t.Fatal("dial with a bogus ticket should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func TestVoiceHandshake_TicketIsSingleUse(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, transport.Config{APIKeys: []string{"k1"}})
	ticket := issueTicket(t, ts, "k1")

	dial(t, ts, ticket)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(ts, ticket), &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err == nil {
		t.Fatal("second redemption of a ticket should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func TestVoiceHandshake_RequiresSubprotocol(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, transport.Config{APIKeys: []string{"k1"}})
	ticket := issueTicket(t, ts, "k1")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(ts, ticket), nil)
	if err == nil {
		t.Fatal("dial without the subprotocol should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("response = %v, want 426", resp)
	}
}

func TestVoice_FirstMessageMustBeSessionStart(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, transport.Config{APIKeys: []string{"k1"}})
	conn := dial(t, ts, issueTicket(t, ts, "k1"))
	readEnv(t, conn) // welcome

	ping, _ := protocol.BuildEnvelope(protocol.TypePing, nil, "", "m1", "", time.Now().UnixMilli())
	writeEnv(t, conn, ping)

	errEnv := waitForType(t, conn, protocol.TypeError)
	var ep protocol.ErrorPayload
	if err := errEnv.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ep.Code != protocol.CodeBadShape {
		t.Fatalf("error code = %q, want bad_shape", ep.Code)
	}
}

func TestVoice_MalformedEnvelopeWarns(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, transport.Config{APIKeys: []string{"k1"}})
	conn := dial(t, ts, issueTicket(t, ts, "k1"))
	readEnv(t, conn) // welcome

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	warn := waitForType(t, conn, protocol.TypeWarning)
	var wp protocol.WarningPayload
	if err := warn.DecodePayload(&wp); err != nil {
		t.Fatalf("decode warning: %v", err)
	}
	if wp.Code != protocol.CodeBadJSON {
		t.Fatalf("warning code = %q, want bad_json", wp.Code)
	}
}

func TestTicketEndpoint_CapacityLimit(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, transport.Config{APIKeys: []string{"k1"}, MaxSessions: 1})

	conn := dial(t, ts, issueTicket(t, ts, "k1"))
	readEnv(t, conn) // welcome
	start, _ := protocol.BuildEnvelope(protocol.TypeSessionStart, nil, "", "m1", "", time.Now().UnixMilli())
	writeEnv(t, conn, start)
	waitForType(t, conn, protocol.TypeSessionStarted)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/tickets", nil)
	req.Header.Set("Authorization", "Bearer k1")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
}
