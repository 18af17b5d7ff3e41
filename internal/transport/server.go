// Package transport exposes the voicecore engine over WebSocket: ticket-based
// handshake auth, the voice.core.v1 subprotocol, JSON control envelopes as
// text messages and binary audio frames on the hot path.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/aurelia-labs/voicecore/internal/voice"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
)

// maxMessageBytes caps one inbound WebSocket message (header + PCM payload).
const maxMessageBytes = 8 << 20

// Config tunes the transport server.
type Config struct {
	// APIKeys authorise the ticket endpoint. Empty means no client can
	// obtain a ticket.
	APIKeys []string

	// MaxSessions caps concurrent voice sessions. Zero means 64.
	MaxSessions int

	// TicketTTL bounds ticket redemption. Zero means 30 seconds.
	TicketTTL time.Duration
}

// Server terminates client connections and hands each one to the engine.
type Server struct {
	engine      *voice.VoiceEngine
	tickets     *TicketStore
	apiKeys     []string
	maxSessions int
	log         *slog.Logger
}

// NewServer creates a transport server in front of engine.
func NewServer(engine *voice.VoiceEngine, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	return &Server{
		engine:      engine,
		tickets:     NewTicketStore(cfg.TicketTTL),
		apiKeys:     slices.Clone(cfg.APIKeys),
		maxSessions: cfg.MaxSessions,
		log:         log,
	}
}

// Register adds the transport routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tickets", s.handleTicket)
	mux.HandleFunc("GET /v1/voice", s.handleVoice)
}

// handleTicket trades a bearer API key for a short-lived connection ticket.
func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	key, ok := bearerToken(r)
	if !ok || !slices.Contains(s.apiKeys, key) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	if s.engine.ActiveSessions() >= s.maxSessions {
		w.Header().Set("Retry-After", "5")
		http.Error(w, "session capacity reached", http.StatusTooManyRequests)
		return
	}

	ticket, expires := s.tickets.Issue()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]any{
		"ticket":        ticket,
		"expires_at_ms": expires.UnixMilli(),
	})
}

// handleVoice upgrades to WebSocket and runs the session read loop.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !offersSubprotocol(r, protocol.Subprotocol) {
		http.Error(w, "subprotocol "+protocol.Subprotocol+" required", http.StatusUpgradeRequired)
		return
	}
	if !s.tickets.Redeem(r.URL.Query().Get("ticket")) {
		http.Error(w, "invalid or expired ticket", http.StatusUnauthorized)
		return
	}
	if s.engine.ActiveSessions() >= s.maxSessions {
		w.Header().Set("Retry-After", "5")
		http.Error(w, "session capacity reached", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		s.log.Warn("transport: accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	c := newWSConn(conn)
	welcome, err := protocol.BuildEnvelope(protocol.TypeWelcome, protocol.WelcomePayload{
		Subprotocol: protocol.Subprotocol,
		ServerTime:  time.Now().UnixMilli(),
	}, "", "", "", time.Now().UnixMilli())
	if err == nil {
		err = c.SendControl(welcome)
	}
	if err != nil {
		s.log.Warn("transport: welcome failed", "error", err)
		c.Close("welcome_failed")
		return
	}

	s.serve(r, conn, c)
}

// serve reads client messages until the connection dies. The first envelope
// must be session.start; everything after routes to the session op chain.
func (s *Server) serve(r *http.Request, conn *websocket.Conn, c *wsConn) {
	var session *voice.VoiceSession
	defer func() {
		if session != nil {
			session.Stop("connection_closed")
		}
		c.Close("connection_closed")
	}()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.log.Debug("transport: read loop ended", "error", err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if session == nil {
				s.sendPreSessionError(c, protocol.CodeBadShape, "audio before session.start")
				continue
			}
			session.HandleBinaryAudio(data)

		case websocket.MessageText:
			env, verr := protocol.ValidateEnvelope(data, protocol.ValidateOptions{ClientOnly: true})
			if verr != nil {
				s.handleInvalid(c, session, verr)
				continue
			}
			if session != nil {
				session.HandleControl(env)
				continue
			}
			if env.Type != protocol.TypeSessionStart {
				s.sendPreSessionError(c, protocol.CodeBadShape, "first message must be session.start")
				continue
			}
			var payload protocol.SessionStartPayload
			if len(env.Payload) > 0 {
				if err := env.DecodePayload(&payload); err != nil {
					s.sendPreSessionError(c, protocol.CodeBadShape, err.Error())
					continue
				}
			}
			sess, err := s.engine.CreateSession(ctx, c, payload, env.MsgID)
			if err != nil {
				s.log.Error("transport: session start failed", "error", err)
				s.sendPreSessionError(c, protocol.CodeUpstreamError, "session start failed")
				return
			}
			session = sess
		}
	}
}

// handleInvalid reports a malformed envelope without tearing the call down.
func (s *Server) handleInvalid(c *wsConn, session *voice.VoiceSession, verr error) {
	ve, ok := verr.(*protocol.ValidationError)
	if !ok {
		ve = &protocol.ValidationError{Code: protocol.CodeBadShape, Message: verr.Error()}
	}
	sessionID := ""
	if session != nil {
		sessionID = session.ID()
	}
	env, err := protocol.BuildEnvelope(protocol.TypeWarning, protocol.WarningPayload{
		Code:    ve.Code,
		Message: ve.Message,
	}, sessionID, "", "", time.Now().UnixMilli())
	if err != nil {
		return
	}
	if err := c.SendControl(env); err != nil {
		s.log.Debug("transport: warning send failed", "error", err)
	}
}

func (s *Server) sendPreSessionError(c *wsConn, code protocol.ErrorCode, msg string) {
	env, err := protocol.BuildEnvelope(protocol.TypeError, protocol.ErrorPayload{
		Code:    code,
		Message: msg,
	}, "", "", "", time.Now().UnixMilli())
	if err != nil {
		return
	}
	if err := c.SendControl(env); err != nil {
		s.log.Debug("transport: error send failed", "error", err)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func offersSubprotocol(r *http.Request, want string) bool {
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			if strings.EqualFold(strings.TrimSpace(p), want) {
				return true
			}
		}
	}
	return false
}
