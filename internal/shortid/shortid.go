// Package shortid renders compact base62 identifiers for photos. A short ID
// is derived deterministically from the photo's UUID, so regenerating it for
// the same photo always yields the same six characters.
package shortid

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Length of every generated short ID.
const Length = 6

// FromUUID folds the UUID's two halves into 64 bits and encodes six base62
// digits, least significant first.
func FromUUID(id uuid.UUID) string {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	value := hi ^ lo

	buf := make([]byte, Length)
	for i := 0; i < Length; i++ {
		buf[i] = alphabet[value%62]
		value /= 62
	}
	return string(buf)
}

// Valid reports whether raw has the shape of a generated short ID.
func Valid(raw string) bool {
	if len(raw) != Length {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
