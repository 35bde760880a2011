package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"agentboard/internal/domain"
)

// ComputeRecordID computes a deterministic record_id using SHA256.
// Formula: SHA256(capture_id|normalized_username)
// Returns hex-encoded hash (64 characters).
func ComputeRecordID(captureID, username string) string {
	data := fmt.Sprintf("%s|%s", captureID, domain.NormalizeUsername(username))

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
