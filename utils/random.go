package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// confirmationCharset drops 0/O and 1/I so codes survive being read aloud.
const confirmationCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateSecret returns n random bytes hex encoded.
func GenerateSecret(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}

// GenerateConfirmationCode returns a code like "K7QM-2XRP" made of groups
// of four characters.
func GenerateConfirmationCode(groups int) (string, error) {
	if groups <= 0 {
		groups = 2
	}

	raw := make([]byte, groups*4)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	// 256 is a multiple of the charset size, so the modulo is unbiased.
	var b strings.Builder
	for i, c := range raw {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(confirmationCharset[int(c)%len(confirmationCharset)])
	}
	return b.String(), nil
}
