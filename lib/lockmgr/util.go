package lockmgr

import (
	"context"
	"crypto/rand"
)

const (
	bitLength = 256
)

// generateOwnerID creates a new random owner id of bitLength bits
func generateOwnerID() ([]byte, error) {
	randomBytes := make([]byte, bitLength/8)
	_, err := rand.Read(randomBytes)
	return randomBytes, err
}

// --------------------------------------------------------------------------
// Context ownership
// --------------------------------------------------------------------------

type ownerKey string

// WithOwner returns a context that carries ownerID as the holder of key.
// Acquire and TryAcquire called with such a context detect re-entry.
func WithOwner(ctx context.Context, key string, ownerID []byte) context.Context {
	return context.WithValue(ctx, ownerKey(key), ownerID)
}

// OwnerFrom returns the owner id stored for key by WithOwner, or nil
func OwnerFrom(ctx context.Context, key string) []byte {
	if ctx == nil {
		return nil
	}
	ownerID, _ := ctx.Value(ownerKey(key)).([]byte)
	return ownerID
}
