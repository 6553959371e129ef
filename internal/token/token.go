// Package token mints exam-app credentials and hashes them for storage.
// Plaintext tokens leave this package exactly once, in Minted.Plain; every
// other layer only sees the hex hash.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Size is the number of random bytes in a token (256 bits of entropy).
const Size = 32

// Hasher computes the deterministic keyed hash used as the lookup key for tokens.
type Hasher struct {
	key []byte
}

// NewHasher creates a Hasher keyed with the server-side secret.
func NewHasher(key string) *Hasher {
	return &Hasher{key: []byte(key)}
}

// Hash returns the hex-encoded HMAC-SHA256 of a plaintext token.
func (h *Hasher) Hash(plain string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(plain))
	return hex.EncodeToString(mac.Sum(nil))
}

// Minted is a freshly generated token.
type Minted struct {
	Plain string
	Hash  string
}

// String redacts the plaintext so a Minted value is safe to log by accident.
func (m Minted) String() string {
	if len(m.Hash) < 8 {
		return "token(?)"
	}
	return "token(" + m.Hash[:8] + ")"
}

// Mint generates a new random token and its hash.
func (h *Hasher) Mint() (Minted, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return Minted{}, fmt.Errorf("read random: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	return Minted{Plain: plain, Hash: h.Hash(plain)}, nil
}
