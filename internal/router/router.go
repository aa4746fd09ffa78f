// Package router applies the role-based fanout rules that move one
// persisted message to every live connection that should see it.
//
// Routing table, per message role:
//
//	user      -> summary event to every teacher-global connection
//	assistant -> summary event to teachers AND full message to the
//	             session's owning student
//	teacher   -> full message to the session's owning student only
//
// Delivery is best-effort and at-most-once per attempt window: a
// target that is not OPEN is evicted and skipped, a send is retried up
// to three attempts with no backoff, and a target that exhausts its
// attempts is evicted. A dropped client recovers by re-fetching the
// session's message list; the store is the source of truth.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"schoolchat/internal/metrics"
	"schoolchat/internal/websocket"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// sendAttempts is the total number of tries per target connection.
const sendAttempts = 3

// Router persists inbound messages and fans them out to matching live
// connections.
type Router struct {
	registry *websocket.Registry
	store    interfaces.Store
	limiter  *Limiter
	grace    time.Duration
}

// NewRouter wires the router's collaborators. grace is the small settle
// delay before fanout begins, giving a just-opened sibling connection
// time to finish registering.
func NewRouter(registry *websocket.Registry, store interfaces.Store, limiter *Limiter, grace time.Duration) *Router {
	return &Router{
		registry: registry,
		store:    store,
		limiter:  limiter,
		grace:    grace,
	}
}

// Publish validates, rate-limits, and durably appends one message.
// Persistence must succeed before any fanout is attempted; a
// persistence failure is surfaced to the caller and nothing is
// delivered. Publish never fans out itself; the hub dispatches Fanout
// afterwards so routing cannot block the sender's receive loop.
func (r *Router) Publish(ctx context.Context, m *types.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	if !r.limiter.Allow(senderKey(m)) {
		return ErrRateLimited
	}

	if err := r.store.AppendMessage(ctx, m); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	metrics.MessagesRouted.WithLabelValues(string(m.Role)).Inc()
	return nil
}

// Fanout delivers one persisted message per the routing table. Safe to
// call for a session deleted in the meantime: the owner lookup misses
// and the fanout is a no-op.
func (r *Router) Fanout(m *types.Message) {
	if r.grace > 0 {
		time.Sleep(r.grace)
	}

	session, err := r.store.GetSession(context.Background(), m.SessionID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrSessionNotFound) {
			log.Error().Err(err).Int("session_id", m.SessionID).Msg("session lookup failed during fanout")
		}
		return
	}

	switch m.Role {
	case types.RoleUser:
		r.notifyTeachers(session, m)
	case types.RoleAssistant:
		r.notifyTeachers(session, m)
		r.deliverToStudent(session, m)
	case types.RoleTeacher:
		r.deliverToStudent(session, m)
	}
}

// notifyTeachers pushes the lightweight summary event to every
// teacher-global connection.
func (r *Router) notifyTeachers(session *types.ChatSession, m *types.Message) {
	frame := &types.SummaryFrame{
		Type:            types.FrameTypeNewMessage,
		StudentID:       session.StudentID,
		SessionID:       session.ID,
		LastMessageTime: m.Timestamp,
	}

	for _, entry := range r.registry.TeacherConns() {
		for _, conn := range entry.Conns {
			r.deliver(conn, frame)
		}
	}
}

// deliverToStudent pushes the full message to every connection the
// owning student holds under the session. Teacher connections viewing
// the session rely on summary events and are not fanout targets.
func (r *Router) deliverToStudent(session *types.ChatSession, m *types.Message) {
	frame := types.FrameFor(m)
	for _, conn := range r.registry.SessionConnsFor(session.ID, session.StudentID) {
		r.deliver(conn, frame)
	}
}

// deliver pushes one frame to one connection. A target observed closed
// is evicted and skipped; a send failure is retried up to sendAttempts
// total with no backoff, then the target is evicted. Failures never
// propagate: one dead peer cannot affect delivery to the rest.
func (r *Router) deliver(conn interfaces.Conn, frame interface{}) {
	if !conn.IsOpen() {
		r.evict(conn, nil)
		return
	}

	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = conn.WriteJSON(frame); err == nil {
			return
		}
		metrics.DeliveryFailures.Inc()
		log.Warn().Err(err).Str("conn_id", conn.ID()).Int("attempt", attempt).
			Msg("delivery attempt failed")
	}
	r.evict(conn, err)
}

func (r *Router) evict(conn interfaces.Conn, cause error) {
	r.registry.Remove(conn)
	metrics.Evictions.Inc()
	log.Info().Err(cause).Str("conn_id", conn.ID()).
		Int("principal_id", conn.Principal().ID).
		Msg("evicted dead connection")
}

// senderKey identifies a message's origin for rate limiting: the role
// within the session, so one session's student, provider, and teacher
// each get their own budget.
func senderKey(m *types.Message) string {
	return fmt.Sprintf("%s:%d", m.Role, m.SessionID)
}
