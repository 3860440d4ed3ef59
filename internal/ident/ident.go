// Package ident provides canonical 24-hex-character entity identifiers.
// Equipment and document ids round-trip through this form at the API boundary.
package ident

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// Len is the length of a canonical id in hex characters.
const Len = 24

// New returns a new 24-hex id: 4 bytes of unix time followed by 8 random bytes.
// Ids generated in the same process are unique with overwhelming probability
// and sort roughly by creation time.
func New() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(b[4:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to time bits.
		binary.BigEndian.PutUint64(b[4:], uint64(time.Now().UnixNano()))
	}
	return hex.EncodeToString(b[:])
}

// IsValid reports whether s is a well-formed 24-hex id (case-insensitive).
func IsValid(s string) bool {
	if len(s) != Len {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Normalize lowercases a valid id. Callers should validate first.
func Normalize(s string) string {
	return strings.ToLower(s)
}
