package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Cost is deliberately above bcrypt.DefaultCost; login latency is acceptable
// for an internal tool.
const Cost = 12

func Password(password string) (string, error) {
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(hashBytes), nil
}

func Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RefreshToken hashes a refresh token for storage. The token is digested first
// because a signed JWT exceeds bcrypt's 72-byte input limit.
func RefreshToken(token string) (string, error) {
	return Password(digest(token))
}

func VerifyRefreshToken(token, hash string) bool {
	return Verify(digest(token), hash)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
