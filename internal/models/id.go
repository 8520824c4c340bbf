package models

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID. IDs sort by creation time and are unique
// across goroutines.
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, ulid.Make().String())
}

// NewAPIKey returns a random merchant API key prefixed with "rk_".
func NewAPIKey() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 32)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		b[i] = charset[n.Int64()]
	}
	return fmt.Sprintf("rk_%s", string(b))
}
