package id

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"
)

var fallbackSeq atomic.Uint64

// New returns a random 128-bit identifier in hex.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fallback()
	}
	return hex.EncodeToString(b[:])
}

func fallback() string {
	var b [16]byte
	now := uint64(time.Now().UnixNano())
	seq := fallbackSeq.Add(1)
	for i := 0; i < 8; i++ {
		b[i] = byte(now >> (8 * i))
		b[8+i] = byte(seq >> (8 * i))
	}
	return hex.EncodeToString(b[:])
}

// Valid reports whether a caller supplied identifier is safe to echo back and
// log: 1 to 64 characters of [A-Za-z0-9._-].
func Valid(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
