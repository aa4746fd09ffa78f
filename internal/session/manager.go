// Package session owns the chat-session lifecycle, including the
// deletion cascade that keeps routing and persistence consistent.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	ws "schoolchat/internal/websocket"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// deletedReason is the distinguishing close reason sent when a session
// is removed, so clients can tell "session gone" from a network blip.
const deletedReason = "session deleted"

// Manager coordinates session operations between the store and the
// connection registry.
type Manager struct {
	store    interfaces.Store
	registry *ws.Registry
}

// NewManager creates a session manager.
func NewManager(store interfaces.Store, registry *ws.Registry) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
	}
}

// Create opens a new conversation thread owned by studentID.
func (m *Manager) Create(ctx context.Context, studentID int, title string) (*types.ChatSession, error) {
	if studentID <= 0 {
		return nil, ErrInvalidStudent
	}
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 200 {
		return nil, ErrInvalidTitle
	}

	session, err := m.store.CreateSession(ctx, studentID, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().Int("session_id", session.ID).Int("student_id", studentID).Msg("session created")
	return session, nil
}

// Get retrieves one session.
func (m *Manager) Get(ctx context.Context, sessionID int) (*types.ChatSession, error) {
	return m.store.GetSession(ctx, sessionID)
}

// ListForStudent returns a student's sessions, newest first.
func (m *Manager) ListForStudent(ctx context.Context, studentID int) ([]*types.ChatSession, error) {
	return m.store.SessionsForStudent(ctx, studentID)
}

// Latest returns a student's most recent session, or nil when the
// student has none.
func (m *Manager) Latest(ctx context.Context, studentID int) (*types.ChatSession, error) {
	sessions, err := m.store.SessionsForStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// Delete removes a session on behalf of requester. Only the owning
// student may delete. The cascade runs in a fixed order so no
// connection can be routed a message for a session that no longer
// exists: the persisted messages and session row go first, then every
// connection registered under the session is force-closed with the
// deletion reason, then the registry entries are purged.
func (m *Manager) Delete(ctx context.Context, sessionID int, requester types.Principal) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if requester.Type != types.PrincipalStudent || requester.ID != session.StudentID {
		return ErrNotOwner
	}

	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	for _, entry := range m.registry.SessionConns(sessionID) {
		for _, conn := range entry.Conns {
			if err := conn.CloseWithStatus(websocket.CloseNormalClosure, deletedReason); err != nil {
				log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to close connection for deleted session")
			}
		}
	}
	m.registry.PurgeSession(sessionID)

	log.Info().Int("session_id", sessionID).Msg("session deleted")
	return nil
}
