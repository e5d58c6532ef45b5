// Package credential resolves the API key used for the remote services.
//
// Resolution order: an explicit key from configuration, then the
// environment (after loading a .env file), then the OS keychain.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	zkr "github.com/zalando/go-keyring"
)

const (
	// Service is the OS keychain service name.
	Service = "neurolink"

	// Account is the OS keychain account holding the API key.
	Account = "api-key"

	// DisableEnv, when set to "1", skips the OS keychain entirely
	// (headless, CI and container setups).
	DisableEnv = "NEUROLINK_KEYRING_DISABLED"
)

// EnvVars are consulted in order.
var EnvVars = []string{"NEUROLINK_API_KEY", "GEMINI_API_KEY", "API_KEY"}

// ErrMissing is returned by [Resolve] when no source yields a key.
var ErrMissing = errors.New("credential: no API key configured")

// Source names where a key was found.
type Source string

const (
	SourceConfig  Source = "config"
	SourceEnv     Source = "env"
	SourceKeyring Source = "keyring"
)

// LoadEnv loads variables from path into the process environment without
// overriding variables that are already set. An empty path loads ./.env if
// it exists.
func LoadEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("credential: load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("credential: load %q: %w", path, err)
	}
	return nil
}

// Resolve returns the first non-empty key from configured, [EnvVars] and
// the OS keychain.
func Resolve(configured string) (string, Source, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, SourceConfig, nil
	}
	for _, name := range EnvVars {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key, SourceEnv, nil
		}
	}
	if keyringDisabled() {
		return "", "", ErrMissing
	}
	key, err := zkr.Get(Service, Account)
	switch {
	case errors.Is(err, zkr.ErrNotFound):
		return "", "", ErrMissing
	case err != nil:
		return "", "", fmt.Errorf("%w: keychain: %v", ErrMissing, err)
	}
	return key, SourceKeyring, nil
}

// Store saves key in the OS keychain.
func Store(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credential: empty key")
	}
	if keyringDisabled() {
		return fmt.Errorf("credential: keychain disabled by %s", DisableEnv)
	}
	if err := zkr.Set(Service, Account, key); err != nil {
		return fmt.Errorf("credential: keychain set: %w", err)
	}
	return nil
}

// Clear removes the key from the OS keychain. A missing entry is not an error.
func Clear() error {
	if keyringDisabled() {
		return nil
	}
	if err := zkr.Delete(Service, Account); err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("credential: keychain delete: %w", err)
	}
	return nil
}

// Mask shortens key for display, keeping the last four characters.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 4) + key[len(key)-4:]
}

func keyringDisabled() bool {
	return os.Getenv(DisableEnv) == "1"
}
