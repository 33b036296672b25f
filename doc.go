// Package fieldsync is a client-side resilience layer for apps that talk to a
// remote document backend over an unreliable network. It caches reads with
// per-namespace TTLs and keeps writes issued while offline in a durable queue
// that is drained once connectivity returns.
//
// Components:
//   - Cache: result/collection namespaces (TTL, schema version, FIFO bound) and
//     a byte-bounded blob cache. Best-effort: storage errors never surface.
//   - Queue: durable FIFO of write intents (CreateEntity, UpdateEntity,
//     DeleteEntity, UpdateProfile), persisted on every mutation.
//   - Monitor: connectivity state fed by platform events, probes or Set.
//   - Coordinator: drains the queue in batches with bounded retries.
//   - Client: wires the four together; Write goes straight to the backend when
//     online and falls back to the queue otherwise.
//
// Keys:
//
//	fieldsync:cache:<ns>    - one record per namespace
//	fieldsync:blobs:index   - blob index (payloads live in a blobstore.Store)
//	fieldsync:queue         - pending operations
//	fieldsync:queue:dead    - dropped operations
//
// Read pattern:
//
//	feed := fieldsync.NewNamespace[[]Report](client.Cache, fieldsync.NamespaceResults, nil)
//	reports, err := fieldsync.GetOrFetch(ctx, feed, "near:-17.64,-71.33", fetchNearby)
package fieldsync
