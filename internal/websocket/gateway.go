package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// TokenVerifier resolves a presented bearer token to its principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (types.Principal, error)
}

// MessageSink accepts an inbound message for persistence and fanout.
type MessageSink interface {
	Submit(ctx context.Context, m *types.Message) error
}

// Gateway is the public entry point for live connections. It upgrades
// the transport, authenticates against the token authority, authorizes
// the requested scope, registers the connection, starts its heartbeat,
// and guarantees de-registration on every termination path.
//
// Connection lifecycle: CONNECTING (upgrade) -> AUTHENTICATING (verify
// + scope check) -> OPEN (registered, receive loop running) -> CLOSING
// -> CLOSED. A connection that fails authentication never reaches OPEN
// and is never registered.
type Gateway struct {
	registry     *Registry
	verifier     TokenVerifier
	store        interfaces.Store
	sink         MessageSink
	keepAlive    *KeepAlive
	bufferSize   int
	writeTimeout time.Duration
}

// NewGateway wires the gateway's collaborators.
func NewGateway(registry *Registry, verifier TokenVerifier, store interfaces.Store, sink MessageSink, keepAlive *KeepAlive, bufferSize int, writeTimeout time.Duration) *Gateway {
	return &Gateway{
		registry:     registry,
		verifier:     verifier,
		store:        store,
		sink:         sink,
		keepAlive:    keepAlive,
		bufferSize:   bufferSize,
		writeTimeout: writeTimeout,
	}
}

// HandleSession serves /ws/session/{id}?token=. Students may only open
// their own session; teachers may open any session-scoped view.
func (g *Gateway) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(r.URL.Path, "/ws/session/")
	if !ok {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	principal, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Int("session_id", sessionID).Msg("connection rejected: invalid token")
		reject(ws, "authentication failed")
		return
	}

	session, err := g.store.GetSession(r.Context(), sessionID)
	if err != nil {
		// Missing session and forbidden session close identically so a
		// probing client cannot tell them apart.
		if !errors.Is(err, interfaces.ErrSessionNotFound) {
			log.Error().Err(err).Int("session_id", sessionID).Msg("session lookup failed")
		}
		reject(ws, "not authorized for session")
		return
	}
	if principal.Type == types.PrincipalStudent && principal.ID != session.StudentID {
		log.Warn().Int("session_id", sessionID).Int("principal_id", principal.ID).
			Msg("connection rejected: session not owned by student")
		reject(ws, "not authorized for session")
		return
	}

	g.serve(NewConnection(ws, principal, types.SessionScope(sessionID), g.bufferSize, g.writeTimeout))
}

// HandleTeacher serves /ws/teacher/{id}?token=, the teacher's global
// notification scope. The token's principal must be that teacher.
func (g *Gateway) HandleTeacher(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := pathID(r.URL.Path, "/ws/teacher/")
	if !ok {
		http.Error(w, "invalid teacher id", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	principal, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Int("teacher_id", teacherID).Msg("connection rejected: invalid token")
		reject(ws, "authentication failed")
		return
	}
	if principal.Type != types.PrincipalTeacher || principal.ID != teacherID {
		log.Warn().Int("teacher_id", teacherID).Int("principal_id", principal.ID).
			Msg("connection rejected: not the teacher's own inbox")
		reject(ws, "not authorized for teacher inbox")
		return
	}

	g.serve(NewConnection(ws, principal, types.TeacherScope(teacherID), g.bufferSize, g.writeTimeout))
}

// serve registers the connection, starts its heartbeat, and runs the
// receive loop in the handler goroutine. De-registration is
// unconditional on exit, clean or abrupt.
func (g *Gateway) serve(conn *Connection) {
	if err := g.registry.Add(conn); err != nil {
		log.Error().Err(err).Msg("failed to register connection")
		_ = conn.Close()
		return
	}

	log.Info().Str("conn_id", conn.ID()).
		Int("principal_id", conn.Principal().ID).
		Str("scope", string(conn.Scope().Kind)).Int("scope_id", conn.Scope().ID).
		Msg("connection open")

	g.keepAlive.Watch(conn)
	g.readLoop(conn)
}

// readLoop treats each inbound frame as a candidate message: parsed,
// validated to belong to the connection's own session, then submitted
// for persistence and fanout. One frame's failure never ends the loop;
// only transport errors do.
func (g *Gateway) readLoop(conn *Connection) {
	defer func() {
		g.registry.Remove(conn)
		_ = conn.Close()
		log.Info().Str("conn_id", conn.ID()).Msg("connection closed")
	}()

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("websocket read error")
			}
			return
		}

		// Teacher-global connections are notification-only; inbound
		// frames on them are discarded.
		if conn.Scope().Kind != types.ScopeSession {
			continue
		}

		var frame types.MessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("dropping unparseable frame")
			continue
		}

		// A frame claiming another session is dropped, not forwarded.
		if frame.SessionID != conn.Scope().ID {
			log.Warn().Int("claimed_session", frame.SessionID).
				Int("scope_session", conn.Scope().ID).
				Str("conn_id", conn.ID()).Msg("dropping frame with mismatched session id")
			continue
		}

		msg := frame.Message()
		if err := msg.Validate(); err != nil {
			log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("dropping invalid frame")
			continue
		}

		if err := g.sink.Submit(conn.Context(), msg); err != nil {
			// Persistence failures are never silent: the frame is lost to
			// fanout, but the sender's connection stays up.
			log.Error().Err(err).Int("session_id", msg.SessionID).Msg("failed to submit message")
		}
	}
}

// reject closes a not-yet-registered connection with close code 1008
// (policy violation), the contract for auth and scope failures.
func reject(ws *websocket.Conn, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = ws.Close()
}

// pathID extracts the trailing integer id from a route like
// /ws/session/{id}.
func pathID(path, prefix string) (int, bool) {
	raw := strings.TrimPrefix(path, prefix)
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
