// Package identity handles agent API-key generation, hashing, and agent-name
// validation. Keys are a fixed prefix plus opaque random material; only the
// SHA-256 hash is ever stored, so validation resolves a presented key to
// exactly one agent or fails closed.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// KeyPrefix marks every API key issued by this service.
const KeyPrefix = "moltmarket_"

const keyRandomBytes = 32

var (
	ErrInvalidKey  = errors.New("identity: malformed api key")
	ErrInvalidName = errors.New("identity: invalid agent name")
)

// nameRegex matches 2-32 character names of alphanumerics, hyphens, and
// underscores that start and end with an alphanumeric.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,30}[a-zA-Z0-9]$`)

// agentColors is the fixed palette assigned at registration.
var agentColors = []string{
	"#10b981", "#3b82f6", "#ef4444", "#f59e0b",
	"#8b5cf6", "#ec4899", "#06b6d4", "#84cc16",
}

// ValidateName reports whether name is an acceptable agent display name.
func ValidateName(name string) error {
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q must be 2-32 alphanumeric characters, hyphens, or underscores", ErrInvalidName, name)
	}
	return nil
}

// GenerateKey returns a fresh API key and its stored hash.
func GenerateKey() (key, hash string, err error) {
	buf := make([]byte, keyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("identity: generate key: %w", err)
	}
	key = KeyPrefix + hex.EncodeToString(buf)
	return key, HashKey(key), nil
}

// HashKey returns the hex SHA-256 digest stored for an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CheckKey validates the presented key's shape before any lookup. Keys
// without the service prefix are rejected without touching the store.
func CheckKey(key string) error {
	if len(key) <= len(KeyPrefix) || key[:len(KeyPrefix)] != KeyPrefix {
		return ErrInvalidKey
	}
	return nil
}

// ColorFor deterministically picks a display color from the palette. The
// sign bit is masked off rather than negated: negating the most negative
// int32 leaves it negative.
func ColorFor(name string) string {
	var h int32
	for _, c := range name {
		h = h<<5 - h + c
	}
	idx := int(uint32(h)&0x7fffffff) % len(agentColors)
	return agentColors[idx]
}
