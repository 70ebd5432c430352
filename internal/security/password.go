// Package security provides password hashing, token minting, and TOTP checks.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, errHash := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errHash != nil {
		return "", fmt.Errorf("security: hash password: %w", errHash)
	}
	return string(hash), nil
}

// VerifyPassword reports whether the plaintext matches the stored hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateRandomString returns a hex string with n bytes of entropy.
func GenerateRandomString(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("security: random: %w", errRead)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateServiceToken returns a new bearer token for service callers.
func GenerateServiceToken() (string, error) {
	token, errGenerate := GenerateRandomString(24)
	if errGenerate != nil {
		return "", errGenerate
	}
	return "mdk-" + token, nil
}
