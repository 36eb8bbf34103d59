package statusstore

import (
	"time"

	"github.com/Sternrassler/page-exchange/pkg/exchange"
)

// Entry is a stored exchange snapshot.
type Entry struct {
	// Status is the snapshot as returned by exchange.Client.Status.
	Status exchange.Status `json:"status"`

	// PublishedAt is when the snapshot was written.
	PublishedAt time.Time `json:"published_at"`

	// Expires is when the snapshot is considered stale and dropped.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
