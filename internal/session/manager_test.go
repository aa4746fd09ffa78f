package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	ws "schoolchat/internal/websocket"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// fakeStore carries in-memory sessions; unrelated Store methods are
// no-op stubs.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[int]*types.ChatSession
	nextID    int
	deleteErr error
	deleted   []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[int]*types.ChatSession)}
}

func (s *fakeStore) CreateSession(ctx context.Context, studentID int, title string) (*types.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sess := &types.ChatSession{ID: s.nextID, StudentID: studentID, Title: title, CreatedAt: time.Now()}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID int) (*types.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return sess, nil
}

func (s *fakeStore) SessionsForStudent(ctx context.Context, studentID int) ([]*types.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ChatSession
	// Newest first.
	for id := s.nextID; id > 0; id-- {
		if sess, ok := s.sessions[id]; ok && sess.StudentID == studentID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteSession(ctx context.Context, sessionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.sessions, sessionID)
	s.deleted = append(s.deleted, sessionID)
	return nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, m *types.Message) error { return nil }
func (s *fakeStore) SessionMessages(ctx context.Context, sessionID int) ([]*types.Message, error) {
	return nil, nil
}
func (s *fakeStore) MarkSessionRead(ctx context.Context, sessionID int) error { return nil }
func (s *fakeStore) HasUnread(ctx context.Context, studentID int) (bool, error) {
	return false, nil
}
func (s *fakeStore) LastUserMessageTime(ctx context.Context, studentID int) (*time.Time, error) {
	return nil, nil
}
func (s *fakeStore) CreateStudent(ctx context.Context, st *types.Student, hash string) error {
	return nil
}
func (s *fakeStore) GetStudent(ctx context.Context, studentID int) (*types.Student, error) {
	return nil, nil
}
func (s *fakeStore) ListStudents(ctx context.Context) ([]*types.Student, error) { return nil, nil }
func (s *fakeStore) StudentCredentials(ctx context.Context, username string) (int, string, error) {
	return 0, "", nil
}
func (s *fakeStore) GetTeacher(ctx context.Context, teacherID int) (*types.Teacher, error) {
	return nil, nil
}
func (s *fakeStore) TeacherCredentials(ctx context.Context, username string) (int, string, error) {
	return 0, "", nil
}
func (s *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                          { return nil }

// closableConn records the close frame the cascade sends it.
type closableConn struct {
	id        string
	principal types.Principal
	scope     types.Scope

	mu        sync.Mutex
	open      bool
	closeCode int
	reason    string
}

func newClosableConn(id string, p types.Principal, scope types.Scope) *closableConn {
	return &closableConn{id: id, principal: p, scope: scope, open: true}
}

func (c *closableConn) ID() string                 { return c.id }
func (c *closableConn) Principal() types.Principal { return c.principal }
func (c *closableConn) Scope() types.Scope         { return c.scope }

func (c *closableConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *closableConn) WriteJSON(v interface{}) error { return nil }

func (c *closableConn) CloseWithStatus(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closeCode = code
	c.reason = reason
	return nil
}

func (c *closableConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *closableConn) closeFrame() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.reason
}

func TestManager_CreateValidation(t *testing.T) {
	manager := NewManager(newFakeStore(), ws.NewRegistry())

	if _, err := manager.Create(context.Background(), 0, "title"); !errors.Is(err, ErrInvalidStudent) {
		t.Errorf("Expected ErrInvalidStudent, got %v", err)
	}
	if _, err := manager.Create(context.Background(), 1, "   "); !errors.Is(err, ErrInvalidTitle) {
		t.Errorf("Expected ErrInvalidTitle for blank title, got %v", err)
	}
	if _, err := manager.Create(context.Background(), 1, strings.Repeat("x", 201)); !errors.Is(err, ErrInvalidTitle) {
		t.Errorf("Expected ErrInvalidTitle for oversized title, got %v", err)
	}
}

func TestManager_CreateTrimsTitle(t *testing.T) {
	manager := NewManager(newFakeStore(), ws.NewRegistry())

	sess, err := manager.Create(context.Background(), 1, "  homework help  ")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.Title != "homework help" {
		t.Errorf("Expected trimmed title, got %q", sess.Title)
	}
}

func TestManager_LatestPicksNewest(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, ws.NewRegistry())

	first, _ := manager.Create(context.Background(), 1, "first")
	second, _ := manager.Create(context.Background(), 1, "second")

	latest, err := manager.Latest(context.Background(), 1)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("Expected newest session %d, got %d", second.ID, latest.ID)
	}
	_ = first
}

func TestManager_LatestEmptyIsNil(t *testing.T) {
	manager := NewManager(newFakeStore(), ws.NewRegistry())

	latest, err := manager.Latest(context.Background(), 99)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil for a student with no sessions, got %+v", latest)
	}
}

func TestManager_DeleteOwnershipChecks(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, ws.NewRegistry())

	sess, _ := manager.Create(context.Background(), 10, "mine")

	otherStudent := types.Principal{ID: 11, Type: types.PrincipalStudent}
	if err := manager.Delete(context.Background(), sess.ID, otherStudent); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner for another student, got %v", err)
	}

	teacher := types.Principal{ID: 1, Type: types.PrincipalTeacher}
	if err := manager.Delete(context.Background(), sess.ID, teacher); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner for a teacher, got %v", err)
	}

	if err := manager.Delete(context.Background(), 999, otherStudent); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_DeleteCascade(t *testing.T) {
	store := newFakeStore()
	registry := ws.NewRegistry()
	manager := NewManager(store, registry)

	sess, _ := manager.Create(context.Background(), 10, "doomed")
	other, _ := manager.Create(context.Background(), 11, "survivor")

	owner := types.Principal{ID: 10, Type: types.PrincipalStudent}

	c1 := newClosableConn("c1", owner, types.SessionScope(sess.ID))
	c2 := newClosableConn("c2", types.Principal{ID: 1, Type: types.PrincipalTeacher}, types.SessionScope(sess.ID))
	unrelated := newClosableConn("c3", types.Principal{ID: 11, Type: types.PrincipalStudent}, types.SessionScope(other.ID))
	for _, c := range []*closableConn{c1, c2, unrelated} {
		if err := registry.Add(c); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if err := manager.Delete(context.Background(), sess.ID, owner); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Store row gone.
	if _, err := store.GetSession(context.Background(), sess.ID); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Error("Session row should be deleted")
	}

	// Every connection scoped to the session closed with the deletion reason.
	for _, c := range []*closableConn{c1, c2} {
		code, reason := c.closeFrame()
		if code != websocket.CloseNormalClosure || reason != deletedReason {
			t.Errorf("Connection %s: expected close (%d, %q), got (%d, %q)",
				c.id, websocket.CloseNormalClosure, deletedReason, code, reason)
		}
		if c.IsOpen() {
			t.Errorf("Connection %s still open after cascade", c.id)
		}
	}

	// Registry purged for the deleted session only.
	if got := registry.SessionConns(sess.ID); got != nil {
		t.Errorf("Registry still indexes deleted session: %+v", got)
	}
	if got := registry.SessionConnsFor(other.ID, 11); len(got) != 1 {
		t.Error("Unrelated session lost its connection in the cascade")
	}
	if unrelated.IsOpen() != true {
		t.Error("Unrelated connection was closed by the cascade")
	}
}

func TestManager_DeleteStoreFailureLeavesConnections(t *testing.T) {
	store := newFakeStore()
	registry := ws.NewRegistry()
	manager := NewManager(store, registry)

	sess, _ := manager.Create(context.Background(), 10, "sticky")
	owner := types.Principal{ID: 10, Type: types.PrincipalStudent}
	conn := newClosableConn("c1", owner, types.SessionScope(sess.ID))
	if err := registry.Add(conn); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	store.deleteErr = errors.New("disk full")

	if err := manager.Delete(context.Background(), sess.ID, owner); err == nil {
		t.Fatal("Expected store failure to surface")
	}
	// The cascade must not have run.
	if !conn.IsOpen() {
		t.Error("Connection closed even though deletion failed")
	}
	if got := registry.SessionConnsFor(sess.ID, 10); len(got) != 1 {
		t.Error("Registry entry purged even though deletion failed")
	}
}

var _ interfaces.Store = (*fakeStore)(nil)
var _ interfaces.Conn = (*closableConn)(nil)
