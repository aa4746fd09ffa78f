package websocket

import (
	"sync"

	"schoolchat/internal/metrics"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Registry is the in-memory index of live connections, keyed two ways:
// by (session, principal) for session-scoped chat traffic and by
// teacher identity for global "new message" notifications. It is the
// only state mutated from multiple connection lifecycles, so every
// operation runs under one mutex and every read used for fanout is a
// snapshot copy, never the live structure.
//
// Invariant: a key only ever indexes connections that were OPEN when
// added; callers that observe a connection CLOSED or failing remove it,
// and empty buckets are pruned at every level.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int]map[int][]interfaces.Conn // sessionID -> principalID -> conns
	teachers map[int][]interfaces.Conn         // teacherID -> conns
}

// SessionEntry is a snapshot of one principal's connections in a session.
type SessionEntry struct {
	PrincipalID int
	Conns       []interfaces.Conn
}

// TeacherEntry is a snapshot of one teacher's global connections.
type TeacherEntry struct {
	TeacherID int
	Conns     []interfaces.Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int]map[int][]interfaces.Conn),
		teachers: make(map[int][]interfaces.Conn),
	}
}

// Add appends conn under its scope. Multiple connections per key are
// legal (multi-tab, multi-device).
func (r *Registry) Add(conn interfaces.Conn) error {
	if conn == nil {
		return ErrNilConnection
	}

	scope := conn.Scope()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch scope.Kind {
	case types.ScopeSession:
		principalID := conn.Principal().ID
		if r.sessions[scope.ID] == nil {
			r.sessions[scope.ID] = make(map[int][]interfaces.Conn)
		}
		r.sessions[scope.ID][principalID] = append(r.sessions[scope.ID][principalID], conn)
	case types.ScopeTeacher:
		r.teachers[scope.ID] = append(r.teachers[scope.ID], conn)
	default:
		return ErrInvalidScope
	}

	metrics.ActiveConnections.Inc()
	return nil
}

// Remove deletes conn from its bucket and prunes buckets that become
// empty, at both levels. Idempotent: removing an absent connection is a
// no-op, so the receive loop's cleanup and an eviction by the router
// can never double-count.
func (r *Registry) Remove(conn interfaces.Conn) {
	if conn == nil {
		return
	}

	scope := conn.Scope()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch scope.Kind {
	case types.ScopeSession:
		principalID := conn.Principal().ID
		bucket, ok := r.sessions[scope.ID]
		if !ok {
			return
		}
		pruned, removed := withoutConn(bucket[principalID], conn.ID())
		if !removed {
			return
		}
		if len(pruned) == 0 {
			delete(bucket, principalID)
		} else {
			bucket[principalID] = pruned
		}
		if len(bucket) == 0 {
			delete(r.sessions, scope.ID)
		}
	case types.ScopeTeacher:
		pruned, removed := withoutConn(r.teachers[scope.ID], conn.ID())
		if !removed {
			return
		}
		if len(pruned) == 0 {
			delete(r.teachers, scope.ID)
		} else {
			r.teachers[scope.ID] = pruned
		}
	default:
		return
	}

	metrics.ActiveConnections.Dec()
}

// SessionConns returns a snapshot of every connection registered under
// a session, grouped by principal. Safe to iterate while the registry
// is mutated concurrently.
func (r *Registry) SessionConns(sessionID int) []SessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}

	entries := make([]SessionEntry, 0, len(bucket))
	for principalID, conns := range bucket {
		entries = append(entries, SessionEntry{
			PrincipalID: principalID,
			Conns:       copyConns(conns),
		})
	}
	return entries
}

// SessionConnsFor returns a snapshot of one principal's connections in
// a session.
func (r *Registry) SessionConnsFor(sessionID, principalID int) []interfaces.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return copyConns(bucket[principalID])
}

// TeacherConns returns a snapshot of every teacher-global connection.
func (r *Registry) TeacherConns() []TeacherEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]TeacherEntry, 0, len(r.teachers))
	for teacherID, conns := range r.teachers {
		entries = append(entries, TeacherEntry{
			TeacherID: teacherID,
			Conns:     copyConns(conns),
		})
	}
	return entries
}

// PurgeSession drops every registry entry for a session and returns the
// connections that were registered, for the caller to close. Used by
// the session-deletion cascade after the session row is gone.
func (r *Registry) PurgeSession(sessionID int) []interfaces.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}

	var conns []interfaces.Conn
	for _, list := range bucket {
		conns = append(conns, list...)
	}
	delete(r.sessions, sessionID)

	metrics.ActiveConnections.Sub(float64(len(conns)))
	return conns
}

// Stats reports registry size for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionConns := 0
	for _, bucket := range r.sessions {
		for _, conns := range bucket {
			sessionConns += len(conns)
		}
	}
	teacherConns := 0
	for _, conns := range r.teachers {
		teacherConns += len(conns)
	}

	return map[string]int{
		"session_connections": sessionConns,
		"teacher_connections": teacherConns,
		"active_sessions":     len(r.sessions),
	}
}

func copyConns(conns []interfaces.Conn) []interfaces.Conn {
	if len(conns) == 0 {
		return nil
	}
	out := make([]interfaces.Conn, len(conns))
	copy(out, conns)
	return out
}

func withoutConn(conns []interfaces.Conn, id string) ([]interfaces.Conn, bool) {
	for i, c := range conns {
		if c.ID() == id {
			return append(conns[:i:i], conns[i+1:]...), true
		}
	}
	return conns, false
}
