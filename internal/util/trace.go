package util

import (
	"math/rand/v2"
	"strings"
)

// TraceIDLength is the number of hex digits after the prefix.
const TraceIDLength = 12

// NewTraceID returns prefix followed by TraceIDLength random hex digits. It tags
// the log lines of one message handling or job run; it is not a secret.
func NewTraceID(prefix string) string {
	return prefix + randomHex(TraceIDLength)
}

func randomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(hexChars[rand.IntN(16)])
	}
	return b.String()
}
