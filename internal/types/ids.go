package types

import (
	"strings"

	"github.com/google/uuid"
)

// NewJobID generates a UUIDv4 job identifier.
// Panics on entropy exhaustion (uuid.Must); acceptable for ID generation.
func NewJobID() JobID {
	return JobID(uuid.Must(uuid.NewRandom()).String())
}

// ParseJobID validates and converts a string to JobID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the queue.
func ParseJobID(s string) (JobID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return JobID(s), nil
}

// ParseHash validates a torrent info-hash: exactly 40 hex characters.
// Uppercase input is normalized to lowercase to match qBittorrent output.
func ParseHash(s string) (Hash, error) {
	if len(s) != 40 {
		return "", ErrInvalidHash
	}
	s = strings.ToLower(s)
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", ErrInvalidHash
		}
	}
	return Hash(s), nil
}
