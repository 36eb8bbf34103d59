package statusstore

import (
	"strings"
)

// keyPrefix is shared by every key the store writes.
const keyPrefix = "exchange:status"

// Key identifies the snapshot of one exchange.
type Key struct {
	// Namespace separates deployments sharing one Redis (e.g. "prod").
	Namespace string

	// ExchangeID is the id returned by exchange.Client.ID.
	ExchangeID string
}

// String returns the Redis key of the snapshot.
// Format: exchange:status:<namespace>:<exchange id>
//
// Example:
//
//	exchange:status:prod:5f2b8f9e-7c1d-4e0a-9c55-2f7d1d1f0c3a
func (k Key) String() string {
	return strings.Join([]string{keyPrefix, normalizeNamespace(k.Namespace), k.ExchangeID}, ":")
}

// indexKey returns the sorted set listing the exchanges of a namespace,
// scored by last publish time.
func indexKey(namespace string) string {
	return strings.Join([]string{keyPrefix, normalizeNamespace(namespace), "index"}, ":")
}

func normalizeNamespace(namespace string) string {
	namespace = strings.Trim(namespace, ": ")
	if namespace == "" {
		return "default"
	}
	return namespace
}
