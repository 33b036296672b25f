package keys

import (
	"crypto/sha256"
	"encoding/hex"
)

const prefix = "fieldsync:"

const (
	Queue       = prefix + "queue"
	DeadLetters = prefix + "queue:dead"
	BlobIndex   = prefix + "blobs:index"
)

// Namespace returns the storage key owning every entry of a cache namespace.
func Namespace(ns string) string {
	return prefix + "cache:" + ns
}

// Digest returns a fixed-length, filesystem-safe name for an arbitrary key such
// as a blob URL.
func Digest(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
