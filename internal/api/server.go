// Package api exposes the HTTP surface: account registration, logins,
// the teacher dashboard queries, session management, and the message
// feed used by the completion provider. No business logic lives here,
// only HTTP handling and JSON serialization.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"schoolchat/internal/auth"
	"schoolchat/internal/metrics"
	"schoolchat/internal/session"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// MessageSink accepts messages for persistence and routing.
type MessageSink interface {
	Submit(ctx context.Context, m *types.Message) error
}

// Stats reports live connection counts for the health endpoint.
type Stats interface {
	Stats() map[string]int
}

type Server struct {
	authority *auth.Authority
	store     interfaces.Store
	sessions  *session.Manager
	sink      MessageSink
	stats     Stats
	mux       *http.ServeMux
}

func NewServer(authority *auth.Authority, store interfaces.Store, sessions *session.Manager, sink MessageSink, stats Stats) *Server {
	s := &Server{
		authority: authority,
		store:     store,
		sessions:  sessions,
		sink:      sink,
		stats:     stats,
		mux:       http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/api/students/register", s.public(s.registerStudent))
	s.mux.Handle("/api/login/student", s.public(s.loginStudent))
	s.mux.Handle("/api/login/teacher", s.public(s.loginTeacher))
	s.mux.Handle("/api/students", s.authed(s.handleStudents))
	s.mux.Handle("/api/students/", s.authed(s.handleStudentByID))
	s.mux.Handle("/api/sessions", s.authed(s.handleSessions))
	s.mux.Handle("/api/sessions/", s.authed(s.handleSessionByID))
	s.mux.Handle("/api/messages", s.authed(s.postMessage))
	s.mux.Handle("/health", s.public(s.healthCheck))
	s.mux.Handle("/metrics", metrics.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Middleware.

func (s *Server) public(h http.HandlerFunc) http.Handler {
	return s.corsMiddleware(s.jsonMiddleware(h))
}

// authed verifies the bearer (or ?token=) token and stashes the
// principal in the request context.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return s.public(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.sendError(w, "Missing token", http.StatusUnauthorized)
			return
		}

		principal, err := s.authority.Verify(r.Context(), token)
		if err != nil {
			s.sendError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		h(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(r *http.Request) types.Principal {
	p, _ := r.Context().Value(principalKey{}).(types.Principal)
	return p
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Request/response shapes.

type registerRequest struct {
	Username        string `json:"username"`
	Name            string `json:"name"`
	Class           string `json:"class"`
	HomeroomTeacher string `json:"homeroom_teacher"`
	Password        string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID    int    `json:"id"`
	Token string `json:"token"`
}

type createSessionRequest struct {
	StudentID int    `json:"student_id"`
	Title     string `json:"title"`
}

type postMessageRequest struct {
	SessionID int    `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Account endpoints.

func (s *Server) registerStudent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" || req.Name == "" {
		s.sendError(w, "Username, name and password are required", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.sendError(w, "Failed to register student", http.StatusInternalServerError)
		return
	}

	student := &types.Student{
		Username:        req.Username,
		Name:            req.Name,
		Class:           req.Class,
		HomeroomTeacher: req.HomeroomTeacher,
	}
	if err := s.store.CreateStudent(r.Context(), student, hash); err != nil {
		if errors.Is(err, interfaces.ErrUsernameTaken) {
			s.sendError(w, "Username already taken", http.StatusBadRequest)
			return
		}
		s.sendError(w, "Failed to register student", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, student)
}

func (s *Server) loginStudent(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, types.PrincipalStudent, s.store.StudentCredentials)
}

func (s *Server) loginTeacher(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, types.PrincipalTeacher, s.store.TeacherCredentials)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, ptype types.PrincipalType, credentials func(context.Context, string) (int, string, error)) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id, hash, err := credentials(r.Context(), req.Username)
	if err != nil {
		// Unknown usernames and bad passwords are indistinguishable to
		// the caller.
		s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, _, err := s.authority.Issue(r.Context(), types.Principal{ID: id, Type: ptype})
	if err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("failed to issue token")
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	s.encode(w, loginResponse{ID: id, Token: token})
}

// Student endpoints.

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if principalFrom(r).Type != types.PrincipalTeacher {
		s.sendError(w, "Teacher access required", http.StatusForbidden)
		return
	}

	students, err := s.store.ListStudents(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list students", http.StatusInternalServerError)
		return
	}
	if students == nil {
		students = []*types.Student{}
	}
	s.encode(w, students)
}

// handleStudentByID dispatches /api/students/{id} and its subresources:
// sessions, latest-session, unread, last-message.
func (s *Server) handleStudentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/students/")
	parts := strings.SplitN(rest, "/", 2)

	studentID, err := strconv.Atoi(parts[0])
	if err != nil || studentID <= 0 {
		s.sendError(w, "Invalid student ID", http.StatusBadRequest)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	p := principalFrom(r)
	isTeacher := p.Type == types.PrincipalTeacher
	isSelf := p.Type == types.PrincipalStudent && p.ID == studentID

	switch {
	case sub == "" && r.Method == http.MethodGet:
		if !isTeacher && !isSelf {
			s.sendError(w, "Access denied", http.StatusForbidden)
			return
		}
		s.getStudent(w, r, studentID)
	case sub == "sessions" && r.Method == http.MethodGet:
		if !isTeacher && !isSelf {
			s.sendError(w, "Access denied", http.StatusForbidden)
			return
		}
		s.listStudentSessions(w, r, studentID)
	case sub == "latest-session" && r.Method == http.MethodGet:
		if !isTeacher && !isSelf {
			s.sendError(w, "Access denied", http.StatusForbidden)
			return
		}
		s.latestStudentSession(w, r, studentID)
	case sub == "unread" && r.Method == http.MethodGet:
		if !isTeacher {
			s.sendError(w, "Teacher access required", http.StatusForbidden)
			return
		}
		s.studentUnread(w, r, studentID)
	case sub == "last-message" && r.Method == http.MethodGet:
		if !isTeacher {
			s.sendError(w, "Teacher access required", http.StatusForbidden)
			return
		}
		s.studentLastMessage(w, r, studentID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) getStudent(w http.ResponseWriter, r *http.Request, studentID int) {
	student, err := s.store.GetStudent(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrStudentNotFound) {
			s.sendError(w, "Student not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get student", http.StatusInternalServerError)
		return
	}
	s.encode(w, student)
}

func (s *Server) listStudentSessions(w http.ResponseWriter, r *http.Request, studentID int) {
	sessions, err := s.sessions.ListForStudent(r.Context(), studentID)
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*types.ChatSession{}
	}
	s.encode(w, sessions)
}

func (s *Server) latestStudentSession(w http.ResponseWriter, r *http.Request, studentID int) {
	latest, err := s.sessions.Latest(r.Context(), studentID)
	if err != nil {
		s.sendError(w, "Failed to get latest session", http.StatusInternalServerError)
		return
	}
	if latest == nil {
		s.sendError(w, "No sessions found", http.StatusNotFound)
		return
	}
	s.encode(w, latest)
}

func (s *Server) studentUnread(w http.ResponseWriter, r *http.Request, studentID int) {
	unread, err := s.store.HasUnread(r.Context(), studentID)
	if err != nil {
		s.sendError(w, "Failed to check unread", http.StatusInternalServerError)
		return
	}
	s.encode(w, map[string]bool{"unread": unread})
}

func (s *Server) studentLastMessage(w http.ResponseWriter, r *http.Request, studentID int) {
	last, err := s.store.LastUserMessageTime(r.Context(), studentID)
	if err != nil {
		s.sendError(w, "Failed to get last message time", http.StatusInternalServerError)
		return
	}
	if last == nil {
		s.encode(w, map[string]string{"last_time": "N/A"})
		return
	}
	s.encode(w, map[string]string{"last_time": last.UTC().Format(time.RFC3339)})
}

// Session endpoints.

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	p := principalFrom(r)
	if p.Type == types.PrincipalStudent && p.ID != req.StudentID {
		s.sendError(w, "Cannot create sessions for another student", http.StatusForbidden)
		return
	}

	sess, err := s.sessions.Create(r.Context(), req.StudentID, req.Title)
	if err != nil {
		if errors.Is(err, session.ErrInvalidTitle) || errors.Is(err, session.ErrInvalidStudent) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, sess)
}

// handleSessionByID dispatches /api/sessions/{id} plus the messages and
// read subresources.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)

	sessionID, err := strconv.Atoi(parts[0])
	if err != nil || sessionID <= 0 {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodDelete:
		s.deleteSession(w, r, sessionID)
	case sub == "messages" && r.Method == http.MethodGet:
		s.sessionMessages(w, r, sessionID)
	case sub == "read" && r.Method == http.MethodPost:
		s.markSessionRead(w, r, sessionID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, sessionID int) {
	err := s.sessions.Delete(r.Context(), sessionID, principalFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound):
			s.sendError(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, session.ErrNotOwner):
			s.sendError(w, "Only the owning student may delete a session", http.StatusForbidden)
		default:
			s.sendError(w, "Failed to delete session", http.StatusInternalServerError)
		}
		return
	}
	s.encode(w, map[string]string{"message": "Session deleted"})
}

func (s *Server) sessionMessages(w http.ResponseWriter, r *http.Request, sessionID int) {
	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	p := principalFrom(r)
	if p.Type == types.PrincipalStudent && p.ID != sess.StudentID {
		s.sendError(w, "Access denied", http.StatusForbidden)
		return
	}

	messages, err := s.store.SessionMessages(r.Context(), sessionID)
	if err != nil {
		s.sendError(w, "Failed to get messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	s.encode(w, messages)
}

func (s *Server) markSessionRead(w http.ResponseWriter, r *http.Request, sessionID int) {
	if principalFrom(r).Type != types.PrincipalTeacher {
		s.sendError(w, "Teacher access required", http.StatusForbidden)
		return
	}

	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	if err := s.store.MarkSessionRead(r.Context(), sessionID); err != nil {
		s.sendError(w, "Failed to mark session read", http.StatusInternalServerError)
		return
	}
	s.encode(w, map[string]string{"message": "Marked read"})
}

// Message feed.

// postMessage is the ingestion path for the completion provider and any
// non-websocket writer. Messages go through the same persist-then-route
// pipeline as websocket frames.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	frame := types.MessageFrame{
		SessionID: req.SessionID,
		Role:      types.Role(req.Role),
		Content:   req.Content,
		Timestamp: time.Now().UTC(),
	}
	msg := frame.Message()

	sess, err := s.sessions.Get(r.Context(), msg.SessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	p := principalFrom(r)
	if p.Type == types.PrincipalStudent && p.ID != sess.StudentID {
		s.sendError(w, "Access denied", http.StatusForbidden)
		return
	}

	if err := msg.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.sink.Submit(r.Context(), msg); err != nil {
		s.sendError(w, "Failed to submit message", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, msg)
}

// Health.

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := healthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.stats.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.encode(w, response)
}

// Helpers.

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
