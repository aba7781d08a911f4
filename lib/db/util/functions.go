package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the current time, only if the system random source fails
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is an efficient key type based on uint64 for internal hash representation
type UintKey uint64

// HashString generates a hash value for a string with a seed.
// The seed is mixed into the xxhash digest so that two engines with
// different seeds distribute the same keys differently.
func HashString(s string, seed uint64) UintKey {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)

	d := xxhash.New()
	_, _ = d.Write(b[:])
	_, _ = d.WriteString(s)
	return UintKey(d.Sum64())
}
