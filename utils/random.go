package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a prefixed random identifier, e.g. "ord_9F2A...".
func NewID(prefix string) (string, error) {
	code, err := GenerateCode(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", prefix, code), nil
}

// GenerateCode returns a hex string of 2n characters.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}
