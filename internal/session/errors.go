package session

import "errors"

var (
	ErrInvalidTitle   = errors.New("session title must be 1-200 characters")
	ErrInvalidStudent = errors.New("session owner must be a valid student id")
	ErrNotOwner       = errors.New("only the owning student may delete a session")
)
