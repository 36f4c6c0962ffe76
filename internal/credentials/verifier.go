package credentials

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier compares a plaintext password with a stored hash.
type PasswordVerifier interface {
	Verify(hash []byte, password string) bool
}

// BcryptVerifier verifies bcrypt hashes ($2a$, $2b$ and $2y$ prefixes).
type BcryptVerifier struct{}

// Verify implements PasswordVerifier.
func (BcryptVerifier) Verify(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// HashPassword produces a bcrypt hash suitable for a credentials file.
// A cost of zero selects bcrypt.DefaultCost.
func HashPassword(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}
