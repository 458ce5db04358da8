package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandBytes fills the provided slice with cryptographically secure random
// bytes.
func RandBytes(out []byte) ([]byte, error) {
	if len(out) == 0 {
		return out, fmt.Errorf("output slice is empty")
	}
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("rand read: %w", err)
	}
	return out, nil
}

// RandHex returns n random bytes encoded as lowercase hex.
func RandHex(n int) (string, error) {
	b, err := RandBytes(make([]byte, n))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
