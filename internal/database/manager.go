// Package database implements the persistence store on sqlite with the
// single-writer pattern: all mutations funnel through one goroutine so
// sqlite never sees write contention, while reads stay concurrent.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Seed credentials for the bootstrap teacher account.
const (
	seedTeacherUsername = "teacher"
	seedTeacherPassword = "123456"
)

// Manager implements interfaces.Store and interfaces.TokenStore.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the schema and pragmas, seeds
// the default teacher, and starts the write loop.
func NewManager(path string) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := seedDefaultTeacher(db, seedTeacherUsername, seedTeacherPassword); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes every write in one goroutine, retrying once after
// a short pause on failure.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Warn().Err(err).Msg("database write failed, retrying")
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Error().Err(err).Msg("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// Session operations.

func (m *Manager) CreateSession(ctx context.Context, studentID int, title string) (*types.ChatSession, error) {
	session := &types.ChatSession{
		StudentID: studentID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}

	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO chat_sessions (student_id, title, created_at) VALUES (?, ?, ?)`,
			session.StudentID, session.Title, session.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read session id: %w", err)
		}
		session.ID = int(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (m *Manager) GetSession(ctx context.Context, sessionID int) (*types.ChatSession, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, student_id, title, created_at FROM chat_sessions WHERE id = ?`, sessionID)

	var s types.ChatSession
	if err := row.Scan(&s.ID, &s.StudentID, &s.Title, &s.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &s, nil
}

func (m *Manager) SessionsForStudent(ctx context.Context, studentID int) ([]*types.ChatSession, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, student_id, title, created_at FROM chat_sessions
		 WHERE student_id = ? ORDER BY created_at DESC, id DESC`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.ChatSession
	for rows.Next() {
		var s types.ChatSession
		if err := rows.Scan(&s.ID, &s.StudentID, &s.Title, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session's messages and the session row in one
// transaction. Deleting an absent session is a no-op.
func (m *Manager) DeleteSession(ctx context.Context, sessionID int) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to delete session messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to delete session row: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session deletion: %w", err)
		}
		return nil
	})
}

// Message operations.

func (m *Manager) AppendMessage(ctx context.Context, msg *types.Message) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO conversations (session_id, role, content, timestamp, read_by_teacher)
			 VALUES (?, ?, ?, ?, ?)`,
			msg.SessionID, string(msg.Role), msg.Content, msg.Timestamp.UTC(), msg.ReadByTeacher,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		msg.ID = id
		return nil
	})
}

func (m *Manager) SessionMessages(ctx context.Context, sessionID int) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, timestamp, read_by_teacher
		 FROM conversations WHERE session_id = ? ORDER BY timestamp ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Timestamp, &msg.ReadByTeacher); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = types.Role(role)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// Teacher dashboard bookkeeping.

func (m *Manager) MarkSessionRead(ctx context.Context, sessionID int) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE conversations SET read_by_teacher = 1
			 WHERE session_id = ? AND role = 'user' AND read_by_teacher = 0`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to mark session read: %w", err)
		}
		return nil
	})
}

func (m *Manager) HasUnread(ctx context.Context, studentID int) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations
		 WHERE session_id IN (SELECT id FROM chat_sessions WHERE student_id = ?)
		 AND role = 'user' AND read_by_teacher = 0`, studentID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count > 0, nil
}

func (m *Manager) LastUserMessageTime(ctx context.Context, studentID int) (*time.Time, error) {
	var last time.Time
	err := m.db.QueryRowContext(ctx,
		`SELECT timestamp FROM conversations
		 WHERE session_id IN (SELECT id FROM chat_sessions WHERE student_id = ?)
		 AND role = 'user' ORDER BY timestamp DESC LIMIT 1`, studentID).Scan(&last)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last message time: %w", err)
	}
	return &last, nil
}

// Account operations.

func (m *Manager) CreateStudent(ctx context.Context, s *types.Student, passwordHash string) error {
	return m.executeWrite(func(db *sql.DB) error {
		var existing int
		err := db.QueryRowContext(ctx, `SELECT id FROM students WHERE username = ?`, s.Username).Scan(&existing)
		if err == nil {
			return interfaces.ErrUsernameTaken
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check username: %w", err)
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO students (username, name, class, homeroom_teacher, password_hash)
			 VALUES (?, ?, ?, ?, ?)`,
			s.Username, s.Name, s.Class, s.HomeroomTeacher, passwordHash,
		)
		if err != nil {
			return fmt.Errorf("failed to insert student: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read student id: %w", err)
		}
		s.ID = int(id)
		return nil
	})
}

func (m *Manager) GetStudent(ctx context.Context, studentID int) (*types.Student, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, username, name, class, homeroom_teacher FROM students WHERE id = ?`, studentID)

	var s types.Student
	if err := row.Scan(&s.ID, &s.Username, &s.Name, &s.Class, &s.HomeroomTeacher); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to query student: %w", err)
	}
	return &s, nil
}

func (m *Manager) ListStudents(ctx context.Context) ([]*types.Student, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, username, name, class, homeroom_teacher FROM students ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var students []*types.Student
	for rows.Next() {
		var s types.Student
		if err := rows.Scan(&s.ID, &s.Username, &s.Name, &s.Class, &s.HomeroomTeacher); err != nil {
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		students = append(students, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating student rows: %w", err)
	}
	return students, nil
}

func (m *Manager) StudentCredentials(ctx context.Context, username string) (int, string, error) {
	var id int
	var hash string
	err := m.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM students WHERE username = ?`, username).Scan(&id, &hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, "", interfaces.ErrStudentNotFound
		}
		return 0, "", fmt.Errorf("failed to query student credentials: %w", err)
	}
	return id, hash, nil
}

func (m *Manager) GetTeacher(ctx context.Context, teacherID int) (*types.Teacher, error) {
	row := m.db.QueryRowContext(ctx, `SELECT id, username FROM teachers WHERE id = ?`, teacherID)

	var t types.Teacher
	if err := row.Scan(&t.ID, &t.Username); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrTeacherNotFound
		}
		return nil, fmt.Errorf("failed to query teacher: %w", err)
	}
	return &t, nil
}

func (m *Manager) TeacherCredentials(ctx context.Context, username string) (int, string, error) {
	var id int
	var hash string
	err := m.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM teachers WHERE username = ?`, username).Scan(&id, &hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, "", interfaces.ErrTeacherNotFound
		}
		return 0, "", fmt.Errorf("failed to query teacher credentials: %w", err)
	}
	return id, hash, nil
}

// Token allowlist operations.

func (m *Manager) SaveToken(ctx context.Context, rec *types.TokenRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO tokens (token, principal_id, principal_type, expires_at) VALUES (?, ?, ?, ?)`,
			rec.Token, rec.Principal.ID, string(rec.Principal.Type), rec.ExpiresAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert token: %w", err)
		}
		return nil
	})
}

func (m *Manager) LookupToken(ctx context.Context, token string) (*types.TokenRecord, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT token, principal_id, principal_type, expires_at FROM tokens WHERE token = ?`, token)

	var rec types.TokenRecord
	var ptype string
	if err := row.Scan(&rec.Token, &rec.Principal.ID, &ptype, &rec.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	rec.Principal.Type = types.PrincipalType(ptype)
	return &rec, nil
}

// Lifecycle.

func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions LIMIT 1`).Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the connection. Safe to call
// more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
