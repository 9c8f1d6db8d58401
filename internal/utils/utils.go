// Package utils contains small helpers shared by the other packages.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// ShortenString cuts s to l runes and marks the cut. l == 0 disables it.
func ShortenString(s string, l int) string {
	r := []rune(s)
	if len(r) > l && l != 0 {
		return fmt.Sprintf("%s...", string(r[:l]))
	}
	return s
}

// RandomString returns base followed by a dash and 16 random hex characters.
func RandomString(base string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(b)), nil
}

// NormalizeSpace collapses runs of whitespace and trims s.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
