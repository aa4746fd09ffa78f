package types

// maxContentBytes caps message content to keep frames and rows bounded.
const maxContentBytes = 16 * 1024

// IsValidRole reports whether role is one of the three message origins.
func IsValidRole(role Role) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleTeacher
}

// IsValidPrincipalType reports whether t names a known identity kind.
func IsValidPrincipalType(t PrincipalType) bool {
	return t == PrincipalStudent || t == PrincipalTeacher
}

// Validate checks structural validity of a message before persistence.
func (m *Message) Validate() error {
	if m.SessionID <= 0 {
		return ErrInvalidSessionID
	}
	if !IsValidRole(m.Role) {
		return ErrInvalidRole
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > maxContentBytes {
		return ErrContentTooLarge
	}
	if m.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}
