package types

import (
	"time"
)

// PrincipalType distinguishes the two kinds of authenticated identities.
type PrincipalType string

const (
	PrincipalStudent PrincipalType = "student"
	PrincipalTeacher PrincipalType = "teacher"
)

// Principal is an authenticated identity. Immutable once issued.
type Principal struct {
	ID   int           `json:"id"`
	Type PrincipalType `json:"type"`
}

// Role identifies the origin of a chat message.
type Role string

const (
	RoleUser      Role = "user"      // the session's owning student
	RoleAssistant Role = "assistant" // the external completion provider
	RoleTeacher   Role = "teacher"   // a direct human reply
)

// SelfAcknowledged reports whether a role's messages are born read:
// teacher and assistant writes acknowledge themselves, student messages
// wait for a teacher.
func (r Role) SelfAcknowledged() bool {
	return r == RoleAssistant || r == RoleTeacher
}

// ScopeKind selects which registry index a connection lives in.
type ScopeKind string

const (
	ScopeSession ScopeKind = "session"
	ScopeTeacher ScopeKind = "teacher"
)

// Scope is the routing key a connection is registered under: either one
// chat session or a teacher's global notification channel.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   int       `json:"id"`
}

func SessionScope(sessionID int) Scope {
	return Scope{Kind: ScopeSession, ID: sessionID}
}

func TeacherScope(teacherID int) Scope {
	return Scope{Kind: ScopeTeacher, ID: teacherID}
}

// ChatSession is the routing scope for one conversation thread.
// Never mutated after creation except through deletion, which cascades
// to its messages and force-closes every connection scoped to it.
type ChatSession struct {
	ID        int       `json:"id"`
	StudentID int       `json:"student_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one append-only row of a session's conversation, ordered
// by timestamp within the session.
type Message struct {
	ID            int64     `json:"id,omitempty"`
	SessionID     int       `json:"session_id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	ReadByTeacher bool      `json:"read_by_teacher"`
}

// Student is a registered student account. The password hash never
// leaves the store.
type Student struct {
	ID              int    `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Class           string `json:"class"`
	HomeroomTeacher string `json:"homeroom_teacher"`
}

// Teacher is a registered teacher account.
type Teacher struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// TokenRecord is one row of the durable allowlist of issued tokens.
// A token is valid only while a matching unexpired record exists.
type TokenRecord struct {
	Token     string    `json:"token"`
	Principal Principal `json:"principal"`
	ExpiresAt time.Time `json:"expires_at"`
}
