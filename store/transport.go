package store

import (
	"context"
	"encoding/json"
)

// Document is a JSON object. It carries an "id" string and the partition key value at
// the collection's partition key path. Backends add "_etag" to returned documents.
type Document = json.RawMessage

// CollectionRef identifies a collection within a database.
type CollectionRef struct {
	Database   string
	Collection string
}

func (r CollectionRef) String() string {
	return r.Database + "/" + r.Collection
}

// SessionTokenHeader carries session tokens on the wire.
const SessionTokenHeader = "x-ms-session-token"

// ItemOptions are per-request options passed to the transport.
type ItemOptions struct {
	// IfMatch makes a write conditional on the stored etag.
	IfMatch string

	// SessionToken requests session consistency with earlier writes.
	SessionToken string
}

// ItemResponse is the result of a point operation.
type ItemResponse struct {
	// Document is the stored document. Empty for deletes.
	Document Document

	// ETag is the concurrency token of the stored document.
	ETag string

	// SessionToken is returned by the store for session consistency.
	SessionToken string
}

// QueryPage is one page of query results.
type QueryPage struct {
	Items []Document

	// Continuation resumes the query. Empty on the last page.
	Continuation string

	SessionToken string
}

// Transport is the narrow capability surface of a document store. Every method
// returns a *Failure for store-reported errors so the retry policy can classify them.
type Transport interface {
	CreateItem(ctx context.Context, ref CollectionRef, doc Document, opts ItemOptions) (ItemResponse, error)
	UpsertItem(ctx context.Context, ref CollectionRef, doc Document, opts ItemOptions) (ItemResponse, error)
	ReplaceItem(ctx context.Context, ref CollectionRef, id string, doc Document, opts ItemOptions) (ItemResponse, error)
	DeleteItem(ctx context.Context, ref CollectionRef, id, partitionKey string, opts ItemOptions) (ItemResponse, error)
	ReadItem(ctx context.Context, ref CollectionRef, id, partitionKey string, opts ItemOptions) (ItemResponse, error)
	QueryItems(ctx context.Context, ref CollectionRef, q Query, continuation string, opts ItemOptions) (QueryPage, error)
}

// Provisioner creates databases and collections when they don't exist.
// Both calls are idempotent.
type Provisioner interface {
	EnsureDatabase(ctx context.Context, database string, throughput int) error
	EnsureCollection(ctx context.Context, database string, settings CollectionSettings, throughput int, defaultTTL *int) error
}

// Connection is a live handle to a store account.
type Connection interface {
	Transport
	Provisioner
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Connection, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, cfg Config) (Connection, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Connection, error) {
	return f(ctx, cfg)
}

// Middleware decorates a Transport with a cross-cutting concern.
type Middleware func(Transport) Transport
