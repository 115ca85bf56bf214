package auth

import (
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	placeholderOnce sync.Once
	placeholder     []byte
)

// HashPassword bcrypt-hashes a plaintext password.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// IsHash reports whether s is already a bcrypt hash.
func IsHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// ComparePassword reports whether plain matches hash. It runs one bcrypt
// comparison even when hash is empty or malformed.
func ComparePassword(hash, plain string) bool {
	valid := IsHash(hash)
	target := []byte(hash)
	if !valid {
		placeholderOnce.Do(func() {
			placeholder, _ = bcrypt.GenerateFromPassword([]byte("placeholder-password"), bcrypt.DefaultCost)
		})
		target = placeholder
	}
	err := bcrypt.CompareHashAndPassword(target, []byte(plain))
	return err == nil && valid && plain != ""
}
