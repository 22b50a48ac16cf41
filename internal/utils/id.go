package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-generated ids of unconfirmed messages.
const TempIDPrefix = "tmp-"

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// NewTempID returns an id for an optimistic placeholder.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}
