package interfaces

import (
	"context"
	"time"

	"schoolchat/pkg/types"
)

// Store is the durable persistence contract. Messages are the system of
// record: a dropped live delivery is recoverable by re-fetching a
// session's message list.
type Store interface {
	// Session operations.

	// CreateSession inserts a new session owned by studentID and returns
	// it with its assigned id.
	CreateSession(ctx context.Context, studentID int, title string) (*types.ChatSession, error)

	// GetSession retrieves a session by id. Returns ErrSessionNotFound
	// when no such session exists.
	GetSession(ctx context.Context, sessionID int) (*types.ChatSession, error)

	// SessionsForStudent returns a student's sessions, newest first.
	SessionsForStudent(ctx context.Context, studentID int) ([]*types.ChatSession, error)

	// DeleteSession atomically removes a session's messages and the
	// session row. Idempotent with respect to already-deleted sessions.
	DeleteSession(ctx context.Context, sessionID int) error

	// Message operations.

	// AppendMessage durably appends one message row, setting m.ID.
	// Append must complete before any fanout is attempted.
	AppendMessage(ctx context.Context, m *types.Message) error

	// SessionMessages returns all messages for a session ordered by
	// timestamp ascending.
	SessionMessages(ctx context.Context, sessionID int) ([]*types.Message, error)

	// Teacher dashboard bookkeeping.

	// MarkSessionRead marks a session's unread student messages as read
	// by a teacher.
	MarkSessionRead(ctx context.Context, sessionID int) error

	// HasUnread reports whether any of the student's sessions hold
	// unread student messages.
	HasUnread(ctx context.Context, studentID int) (bool, error)

	// LastUserMessageTime returns the timestamp of the student's newest
	// user-role message, or nil when there is none.
	LastUserMessageTime(ctx context.Context, studentID int) (*time.Time, error)

	// Account operations. Password material is stored and compared as
	// bcrypt hashes only.

	CreateStudent(ctx context.Context, s *types.Student, passwordHash string) error
	GetStudent(ctx context.Context, studentID int) (*types.Student, error)
	ListStudents(ctx context.Context) ([]*types.Student, error)
	StudentCredentials(ctx context.Context, username string) (int, string, error)
	GetTeacher(ctx context.Context, teacherID int) (*types.Teacher, error)
	TeacherCredentials(ctx context.Context, username string) (int, string, error)

	// Lifecycle.

	HealthCheck(ctx context.Context) error
	Close() error
}
