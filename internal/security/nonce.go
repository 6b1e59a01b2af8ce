package security

import (
	"crypto/rand"
	"io"
)

// NonceSize is both the nonce length in characters and the GCM IV length in
// bytes: the ASCII bytes of the nonce are the IV.
const NonceSize = 12

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateNonce returns NonceSize characters drawn uniformly from the
// 62-symbol alphabet using crypto/rand.
func GenerateNonce() (string, error) {
	return generateNonce(rand.Reader)
}

func generateNonce(r io.Reader) (string, error) {
	// reject bytes >= 248 (256 - 256%62) to avoid modulo bias
	const threshold = 256 - 256%len(nonceAlphabet)
	out := make([]byte, 0, NonceSize)
	buf := make([]byte, 2*NonceSize)
	for len(out) < NonceSize {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= threshold {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == NonceSize {
				break
			}
		}
	}
	return string(out), nil
}
