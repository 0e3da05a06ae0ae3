package utils

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// GenerateID returns a calculation id that sorts by creation time, e.g.
// 20261019T101500-3f9a1c2b.
func GenerateID() string {
	return generateID(time.Now())
}

func generateID(now time.Time) string {
	b := make([]byte, 4)
	suffix := "00000000"
	if _, err := rand.Read(b); err == nil {
		suffix = hex.EncodeToString(b)
	}
	return now.UTC().Format("20060102T150405") + "-" + suffix
}
