package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// CredentialKey is the single key recognized in the credential file.
const CredentialKey = "DASHSCOPE_API_KEY"

// CredentialPlaceholder is returned when no real key is configured so
// that upstream dials fail with a provider error instead of a nil key
// panic. The value never authenticates.
const CredentialPlaceholder = "missing-api-key"

// ResolveCredential returns the provider API key. Precedence: process
// environment, then the credential file at path, then the placeholder.
func ResolveCredential(path string) string {
	if key := strings.TrimSpace(os.Getenv(CredentialKey)); key != "" {
		return key
	}
	if path != "" {
		if values, err := godotenv.Read(path); err == nil {
			if key := strings.TrimSpace(values[CredentialKey]); key != "" {
				return key
			}
		}
	}
	return CredentialPlaceholder
}

// HasCredential reports whether a non-placeholder key is available.
func HasCredential(path string) bool {
	return ResolveCredential(path) != CredentialPlaceholder
}

// SaveCredential writes the key to the credential file, creating parent
// directories as needed. The file holds exactly one KEY=value line.
func SaveCredential(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("credential key must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create credential directory: %w", err)
		}
	}
	line := fmt.Sprintf("%s=%s\n", CredentialKey, key)
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}
