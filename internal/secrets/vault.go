// Package secrets holds runtime credentials with hot reload support and
// seals agent private keys at rest.
package secrets

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Well-known secret keys.
const (
	KeyJWTSecret     = "JWT_SECRET"
	KeyGeminiAPIKey  = "GEMINI_API_KEY"
	KeyWalletAgeKey  = "WALLET_AGE_IDENTITY"
	redactedSuffix   = "****"
	minRedactableLen = 4
)

// Loader retrieves secrets from a source (env vars, file, remote vault, etc.).
type Loader func() (map[string]string, error)

// Merge combines loaders; later loaders override earlier ones. Empty values
// never override.
func Merge(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string)
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range vals {
				if v != "" {
					out[k] = v
				}
			}
		}
		return out, nil
	}
}

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Keys returns the names of all loaded secrets.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Collect(maps.Keys(v.values))
}

// Redacted returns a masked form of the secret safe for logs.
func (v *Vault) Redacted(key string) string {
	return redact(v.Get(key))
}

// RedactString masks every known secret occurring in s.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, val := range v.values {
		if len(val) <= minRedactableLen {
			continue
		}
		s = strings.ReplaceAll(s, val, redact(val))
	}
	return s
}

func redact(val string) string {
	switch {
	case val == "":
		return ""
	case len(val) <= minRedactableLen:
		return redactedSuffix
	default:
		return val[:2] + redactedSuffix
	}
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}
