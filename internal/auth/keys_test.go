package auth

import (
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", // SHA256 of empty
		},
		{
			name:     "known key",
			input:    "test-api-key",
			expected: "4c806362b613f7496abf284146efd31da90e4b16169fe001841ca17290f427c4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := HashKey(tt.input)
			if len(result) != 64 {
				t.Errorf("HashKey() returned %d chars, want 64", len(result))
			}
			if result != tt.expected {
				t.Errorf("HashKey() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestHashKey_TrimsWhitespace(t *testing.T) {
	// Keys arrive from headers and config files with stray whitespace.
	if HashKey("  test-api-key  ") != HashKey("test-api-key") {
		t.Error("HashKey must hash the trimmed key")
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	key := "my-secret-key"
	if HashKey(key) != HashKey(key) {
		t.Error("HashKey is not deterministic")
	}
}

func TestHashKey_DifferentInputsDifferentOutputs(t *testing.T) {
	if HashKey("key1") == HashKey("key2") {
		t.Error("Different keys produced same hash")
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("key %q missing the %q prefix", key, KeyPrefix)
	}
	// Prefix plus 32 random bytes hex-encoded.
	if want := len(KeyPrefix) + 64; len(key) != want {
		t.Errorf("got key length %d, want %d", len(key), want)
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}
		if seen[key] {
			t.Fatalf("GenerateKey produced a repeat after %d keys", i)
		}
		seen[key] = true
	}
}
