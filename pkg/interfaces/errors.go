package interfaces

import "errors"

// Common errors shared across component boundaries.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStudentNotFound = errors.New("student not found")
	ErrTeacherNotFound = errors.New("teacher not found")
	ErrTokenNotFound   = errors.New("token not found")
	ErrUsernameTaken   = errors.New("username is already registered")
	ErrUnauthorized    = errors.New("unauthorized access")
)
