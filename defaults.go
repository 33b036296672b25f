package fieldsync

import "time"

const (
	NamespaceQueries     = "queries"
	NamespaceResults     = "results"
	NamespaceCollections = "collections"
)

const (
	DefaultSchemaVersion  = "1"
	DefaultSweepInterval  = 5 * time.Minute
	DefaultNamespaceTTL   = time.Minute
	DefaultMaxEntries     = 100
	DefaultBlobTTL        = 24 * time.Hour
	DefaultBlobMaxBytes   = 50 << 20
	DefaultBlobMaxEntries = 200

	DefaultSyncInterval     = 30 * time.Second
	DefaultBatchSize        = 5
	DefaultBatchPause       = time.Second
	DefaultMaxRetries       = 3
	DefaultOperationTimeout = 30 * time.Second
	DefaultErrorLimit       = 5
	DefaultDeadLetterLimit  = 50
	DefaultProbeInterval    = 30 * time.Second
)

// DefaultNamespaces returns the stock namespace policies: queries are the
// freshest, per-owner collections the smallest.
func DefaultNamespaces() map[string]NamespaceConfig {
	return map[string]NamespaceConfig{
		NamespaceQueries:     {TTL: time.Minute, MaxEntries: 100},
		NamespaceResults:     {TTL: 2 * time.Minute, MaxEntries: 100},
		NamespaceCollections: {TTL: 2 * time.Minute, MaxEntries: 50},
	}
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
