package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alovak/cardflow-checkout/checkout/models"
)

// KeyEnv is the deployment secret holding the base64 AES-256 key.
const KeyEnv = "CARD_ENCRYPTION_KEY"

const keySize = 32

var errKeyMissing = errors.New(KeyEnv + " not set; card encryption key must be provided at deploy time")

// KeySource returns the base64-encoded key. It is consulted on every
// encryption call; nothing is cached.
type KeySource interface {
	EncodedKey() (string, error)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func() (string, error)

func (f KeySourceFunc) EncodedKey() (string, error) { return f() }

// EnvKey reads the key from the named environment variable.
func EnvKey(name string) KeySource {
	return KeySourceFunc(func() (string, error) {
		v, ok := os.LookupEnv(name)
		if !ok || strings.TrimSpace(v) == "" {
			if name == KeyEnv {
				return "", errKeyMissing
			}
			return "", fmt.Errorf("%s not set", name)
		}
		return v, nil
	})
}

// StaticKey serves a fixed base64 key. Tests and tooling only.
func StaticKey(encoded string) KeySource {
	return KeySourceFunc(func() (string, error) { return encoded, nil })
}

// loadKey fetches and decodes a fresh copy of the key. Callers must Wipe it.
func loadKey(src KeySource) ([]byte, error) {
	if src == nil {
		return nil, models.NewError(models.KindConfiguration, "card encryption key source is not configured", errKeyMissing)
	}
	encoded, err := src.EncodedKey()
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "card encryption key is unavailable", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "card encryption key is not valid base64", err)
	}
	if len(key) != keySize {
		Wipe(key)
		return nil, models.NewError(models.KindConfiguration, "card encryption key has wrong size",
			fmt.Errorf("decoded key is %d bytes, want %d", len(key), keySize))
	}
	return key, nil
}

// Wipe zeroes b. Go does not guarantee no other copy exists.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
