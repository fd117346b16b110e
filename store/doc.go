// Package store provides a resilient client layer over a partitioned document store.
//
// A [Repository] performs create, upsert, replace, delete, read and query operations
// against one configured collection. Every call runs under a retry policy that
// classifies store failures, and obtains its connection from a [ClientFactory] that
// lazily connects and provisions the configured databases and collections.
//
// # Backends
//
// The store is reached through the narrow [Transport] interface. A backend provides a
// [Dialer] whose connections also implement [Provisioner]:
//
//	factory := store.NewClientFactory(dynamo.NewDialer())
//	repo, err := store.NewRepository(factory, cfg)
//
// # Failure Classification
//
// Backends report store errors as [*Failure] values carrying an HTTP-equivalent
// status code. [Classify] maps them to an [Action]:
//
//   - 404 on a collection or database: the cached connection is invalidated and the
//     call retried, which re-provisions a collection removed out of band
//   - 404 on a document: [ErrMissingDocument]; deletes report false instead
//   - 409: [ErrConflict]
//   - 412: [ErrStaleData]
//   - 429: the call is retried after the server suggested delay (default 1s)
//
// Anything else is published to the [Sink] and returned unchanged. Retries are
// unbounded unless [WithRetryLimits] is used; cancel ctx to bound them in time.
//
// # Configuration
//
// [LoadConfig] reads YAML with ${ENV} expansion:
//
//	endpoint: http://localhost:8000
//	key: ${DOCSTORE_KEY}
//	defaultTimeToLive: 86400
//	databases:
//	  shop:
//	    - name: orders
//	      partitionKeyPath: /customerId
//	      uniqueKeyPaths: ["/number"]
//
// # Errors
//
//   - [ErrConfiguration] - invalid settings, see [ConfigError]
//   - [ErrMissingDocument] - document doesn't exist
//   - [ErrStaleData] - etag no longer matches
//   - [ErrConflict] - id or unique key already taken
//   - [ErrInvalidArgument] - nil query, malformed document
package store
