package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// tokenBytes is the amount of randomness in refresh token secrets and JWT keys.
const tokenBytes = 64

// newID returns a 32 character hex id.
func newID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// newSecret returns 64 random bytes as hex.
func newSecret() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var (
	flowEntropyMu sync.Mutex
	flowEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// newFlowID returns a time-sortable, unguessable flow id.
func newFlowID(now time.Time) string {
	flowEntropyMu.Lock()
	defer flowEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), flowEntropy).String()
}
