package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost balances hash strength against login latency on the small
// boards this server tends to run on.
const bcryptCost = 10

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with its plaintext version.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
