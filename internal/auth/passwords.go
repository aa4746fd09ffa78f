package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword produces a bcrypt hash for storage in the credential
// registry.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a stored hash against a login attempt.
// Returns ErrInvalidCredentials on mismatch so callers never branch on
// bcrypt internals.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
