// Package credentials hashes and verifies client secrets and bearer
// tokens. Client secrets are low-entropy and use bcrypt. Bearer tokens
// are high-entropy random strings and use SHA-256 purely as a lookup key.
// The two are not interchangeable.
package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinSecretLength is the shortest client secret accepted for hashing.
	MinSecretLength = 16

	// clientSecretBytes is the entropy of generated client secrets.
	clientSecretBytes = 32
)

// Hasher hashes client secrets with a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, clamped to bcrypt's valid range.
// A zero cost selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}

	return &Hasher{cost: cost}
}

// Cost returns the bcrypt work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// HashSecret returns the bcrypt hash of secret.
func (h *Hasher) HashSecret(secret string) (string, error) {
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("client secret must be at least %d characters", MinSecretLength)
	}

	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing client secret: %w", err)
	}

	return string(b), nil
}

// VerifySecret reports whether secret matches the bcrypt hash. The
// comparison is constant time with respect to the secret.
func VerifySecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// HashToken returns the hex-encoded SHA-256 digest of an opaque token.
// Only use this for high-entropy values generated by RandomToken or for
// signed access tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns a base64url-encoded string of n random bytes.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateClientSecret returns a new random client secret.
func GenerateClientSecret() (string, error) {
	return RandomToken(clientSecretBytes)
}
