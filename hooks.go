package fieldsync

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: cache hooks run on the read path
// and queue hooks run while a drain is in flight. Wrap slow sinks with hooks/async.
type Hooks interface {
	// An entry was purged on read.
	// reason ∈ {"expired", "schema_mismatch", "corrupt", "missing_payload"}
	CacheSelfHeal(namespace, key, reason string)

	// count entries were evicted from namespace to satisfy its budget.
	CacheEvicted(namespace string, count int)

	// The backing store failed; the cache degraded to a miss or an unpersisted write.
	CacheStoreError(namespace string, err error)

	// PutBlob refused a URL. reason ∈ {"ephemeral_url", "too_large"}
	BlobRejected(url, reason string)

	// A write intent was appended to the queue.
	OperationEnqueued(op Operation)

	// A queued operation was removed without reaching the backend (retry
	// exhaustion or permanent failure). The change is lost.
	OperationDropped(op Operation, err error)

	// A drain finished (including skipped or aborted drains).
	DrainCompleted(res DrainResult)

	// Connectivity flipped.
	ConnectivityChanged(online bool)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheSelfHeal(string, string, string)  {}
func (NopHooks) CacheEvicted(string, int)              {}
func (NopHooks) CacheStoreError(string, error)         {}
func (NopHooks) BlobRejected(string, string)           {}
func (NopHooks) OperationEnqueued(Operation)           {}
func (NopHooks) OperationDropped(Operation, error)     {}
func (NopHooks) DrainCompleted(DrainResult)            {}
func (NopHooks) ConnectivityChanged(bool)              {}
