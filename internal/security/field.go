package security

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// EncryptField seals plaintext with AES-256-GCM using the nonce's ASCII bytes
// as IV and no additional data. The result is base64(ciphertext || tag).
func EncryptField(plaintext string, key []byte, nonce string) (string, error) {
	gcm, err := newGCM(key, nonce)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, []byte(nonce), []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField.
func DecryptField(encoded string, key []byte, nonce string) (string, error) {
	gcm, err := newGCM(key, nonce)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	plain, err := gcm.Open(nil, []byte(nonce), sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}

func newGCM(key []byte, nonce string) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes (got %d)", keySize, len(key))
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes (got %d)", NonceSize, len(nonce))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
