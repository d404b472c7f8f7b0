package storage

import (
	"crypto/sha1"
	"encoding/hex"
)

// Sha1Hash returns the hex-encoded sha1 digest of value, matching the
// original hub's sha1_hash().
func Sha1Hash(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HashKey returns a bucket key name derived from value, matching the
// original hub's get_hash_key_name(): "hash_" + sha1_hash(value).
func HashKey(value string) string {
	return "hash_" + Sha1Hash(value)
}

// SubscriptionKey returns the key for the (callback, topic) pair.
func SubscriptionKey(callback, topic string) string {
	return HashKey(callback + "\n" + topic)
}
