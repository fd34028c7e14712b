package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks opscore API keys so they are recognizable in configs and
// support tickets.
const KeyPrefix = "oc_"

// GenerateKey returns a new random API key. Only its hash is ever stored;
// the raw key is shown to the caller exactly once.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(raw), nil
}

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
