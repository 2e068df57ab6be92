package timelock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
)

// ActionID returns the deterministic, collision-resistant identifier of a
// (target, payload, scheduledTime) triple: SHA-256 over the RFC 8785
// canonical JSON form. The identifier doubles as the storage key and the
// idempotency token; it is derivable from the triple alone, so no
// separate ID-generator state exists anywhere.
//
// The timestamp is normalized to unix nanoseconds so wall-clock
// representation (location, monotonic reading) never affects identity.
func ActionID(target contracts.Address, payload []byte, scheduledTime time.Time) (string, error) {
	if payload == nil {
		payload = []byte{}
	}
	raw, err := json.Marshal(struct {
		Target      string `json:"target"`
		Payload     []byte `json:"payload"`
		ScheduledNS int64  `json:"scheduled_unix_ns"`
	}{
		Target:      string(target),
		Payload:     payload,
		ScheduledNS: scheduledTime.UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("action id: marshal triple: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("action id: canonicalize triple: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
