package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// Repository performs document operations against the active collection.
// Every call is executed under the retry policy on a connection from the factory.
//
// UseCollection must be called before the repository is shared between goroutines;
// calls in flight keep the collection they started with.
type Repository struct {
	factory    *ClientFactory
	config     Config
	policy     *Policy
	middleware []Middleware
	logger     *slog.Logger

	mu       sync.RWMutex
	ref      CollectionRef
	settings CollectionSettings
}

// NewRepository creates a Repository over the first collection of the first
// configured database (by name). Use UseCollection to select another one.
func NewRepository(factory *ClientFactory, cfg Config, opts ...Option) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ref, ok := cfg.DefaultCollection()
	if !ok {
		return nil, configError("databases", "have no default collection")
	}
	settings, _ := cfg.Collection(ref)

	o := newOptions(opts)
	return &Repository{
		factory:    factory,
		config:     cfg,
		policy:     NewPolicy(factory.Invalidate, opts...),
		middleware: o.middleware,
		logger:     o.logger,
		ref:        ref,
		settings:   settings,
	}, nil
}

// Collection returns the active collection reference.
func (r *Repository) Collection() CollectionRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ref
}

// UseCollection switches the active collection. An empty databaseID keeps the
// current database. Both must be configured.
func (r *Repository) UseCollection(collectionName, databaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if databaseID == "" {
		databaseID = r.ref.Database
	} else if _, ok := r.config.Databases[databaseID]; !ok {
		return configError("databaseId", "'"+databaseID+"' is not configured")
	}

	ref := CollectionRef{Database: databaseID, Collection: collectionName}
	settings, ok := r.config.Collection(ref)
	if !ok {
		return configError("collectionName", "'"+collectionName+"' is not configured for database '"+databaseID+"'")
	}

	r.ref = ref
	r.settings = settings
	r.logger.Debug("active collection changed", "collection", ref.String())
	return nil
}

func (r *Repository) active() (CollectionRef, CollectionSettings) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ref, r.settings
}

// transport returns the factory's connection wrapped in the repository middleware.
func (r *Repository) transport(ctx context.Context) (Transport, error) {
	conn, err := r.factory.GetOrCreate(ctx, r.config)
	if err != nil {
		return nil, err
	}
	var t Transport = conn
	for i := len(r.middleware) - 1; i >= 0; i-- {
		t = r.middleware[i](t)
	}
	return t, nil
}

func (r *Repository) item(ctx context.Context, op Op, ref CollectionRef, call func(context.Context, Transport) (ItemResponse, error)) (Envelope[Document], error) {
	return Execute(ctx, r.policy, op, ref, func(ctx context.Context) (Envelope[Document], error) {
		t, err := r.transport(ctx)
		if err != nil {
			return Envelope[Document]{}, err
		}
		resp, err := call(ctx, t)
		if err != nil {
			return Envelope[Document]{}, err
		}
		return envelopeOf(resp), nil
	})
}

// Create inserts a document. It fails with ErrConflict when a document with the
// same id, or a document violating a unique key, exists in the partition.
func (r *Repository) Create(ctx context.Context, doc Document) (Envelope[Document], error) {
	ref, settings := r.active()
	if _, err := checkDocument(doc, settings); err != nil {
		return Envelope[Document]{}, err
	}
	return r.item(ctx, OpCreate, ref, func(ctx context.Context, t Transport) (ItemResponse, error) {
		return t.CreateItem(ctx, ref, doc, ItemOptions{})
	})
}

// Upsert inserts a document or replaces the one with the same id.
func (r *Repository) Upsert(ctx context.Context, doc Document) (Envelope[Document], error) {
	ref, settings := r.active()
	if _, err := checkDocument(doc, settings); err != nil {
		return Envelope[Document]{}, err
	}
	return r.item(ctx, OpUpsert, ref, func(ctx context.Context, t Transport) (ItemResponse, error) {
		return t.UpsertItem(ctx, ref, doc, ItemOptions{})
	})
}

// Replace replaces the document with the given id. When etag is not empty the
// replace only succeeds if the stored document still carries it, otherwise it
// fails with ErrStaleData. Replacing a missing document fails with ErrMissingDocument.
func (r *Repository) Replace(ctx context.Context, id string, doc Document, etag string) (Envelope[Document], error) {
	ref, settings := r.active()
	if id == "" {
		return Envelope[Document]{}, invalidArgument("id is empty")
	}
	docID, err := checkDocument(doc, settings)
	if err != nil {
		return Envelope[Document]{}, err
	}
	if docID != id {
		return Envelope[Document]{}, invalidArgument("document id %q does not match %q", docID, id)
	}
	return r.item(ctx, OpReplace, ref, func(ctx context.Context, t Transport) (ItemResponse, error) {
		return t.ReplaceItem(ctx, ref, id, doc, ItemOptions{IfMatch: etag})
	})
}

// Read returns the document with the given id and partition key.
// It fails with ErrMissingDocument when the document doesn't exist.
func (r *Repository) Read(ctx context.Context, id, partitionKey string) (Envelope[Document], error) {
	ref, settings := r.active()
	pk, err := resolvePartitionKey(id, partitionKey, settings)
	if err != nil {
		return Envelope[Document]{}, err
	}
	return r.item(ctx, OpRead, ref, func(ctx context.Context, t Transport) (ItemResponse, error) {
		return t.ReadItem(ctx, ref, id, pk, ItemOptions{})
	})
}

// Delete removes a document. It reports false, without error, when nothing
// matched, so deleting twice is safe. An empty partitionKey defaults to id for
// collections partitioned by "/id".
func (r *Repository) Delete(ctx context.Context, id, partitionKey string) (bool, error) {
	ref, settings := r.active()
	pk, err := resolvePartitionKey(id, partitionKey, settings)
	if err != nil {
		return false, err
	}
	_, err = r.item(ctx, OpDelete, ref, func(ctx context.Context, t Transport) (ItemResponse, error) {
		return t.DeleteItem(ctx, ref, id, pk, ItemOptions{})
	})
	if errors.Is(err, ErrMissingDocument) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type queryResult struct {
	items        []Document
	sessionToken string
}

// Query returns every document matching q, draining all pages in server order.
// A nil query fails with ErrInvalidArgument before any call is made.
func (r *Repository) Query(ctx context.Context, q *Query) ([]Document, error) {
	res, err := r.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.items, nil
}

// QueryWithEnvelope is Query with each document wrapped in an Envelope.
// Every returned document must carry an "_etag" property.
func (r *Repository) QueryWithEnvelope(ctx context.Context, q *Query) ([]Envelope[Document], error) {
	res, err := r.query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Envelope[Document], 0, len(res.items))
	for i, doc := range res.items {
		etag := ETagOf(doc)
		if etag == "" {
			return nil, invalidArgument("query result %d has no %s property; select it to build envelopes", i, ETagField)
		}
		out = append(out, Envelope[Document]{Document: doc, ETag: etag, SessionToken: res.sessionToken})
	}
	return out, nil
}

func (r *Repository) query(ctx context.Context, q *Query) (queryResult, error) {
	if q == nil {
		return queryResult{}, invalidArgument("query is nil")
	}
	if strings.TrimSpace(q.Statement) == "" {
		return queryResult{}, invalidArgument("query statement is empty")
	}
	ref, _ := r.active()
	query := *q

	return Execute(ctx, r.policy, OpQuery, ref, func(ctx context.Context) (queryResult, error) {
		t, err := r.transport(ctx)
		if err != nil {
			return queryResult{}, err
		}
		var res queryResult
		continuation := ""
		for {
			page, err := t.QueryItems(ctx, ref, query, continuation, ItemOptions{})
			if err != nil {
				return queryResult{}, err
			}
			res.items = append(res.items, page.Items...)
			if page.SessionToken != "" {
				res.sessionToken = page.SessionToken
			}
			if page.Continuation == "" {
				return res, nil
			}
			continuation = page.Continuation
		}
	})
}

func checkDocument(doc Document, settings CollectionSettings) (string, error) {
	m, err := DecodeDocument(doc)
	if err != nil {
		return "", err
	}
	id, ok := m[IDField].(string)
	if !ok || id == "" {
		return "", invalidArgument("document has no string %q property", IDField)
	}
	if _, err := PartitionKeyValue(m, settings.PartitionKeyPath); err != nil {
		return "", err
	}
	return id, nil
}

func resolvePartitionKey(id, partitionKey string, settings CollectionSettings) (string, error) {
	if id == "" {
		return "", invalidArgument("id is empty")
	}
	if partitionKey != "" {
		return partitionKey, nil
	}
	if settings.PartitionKeyPath == DefaultPartitionKeyPath {
		return id, nil
	}
	return "", invalidArgument("partition key is required for collections partitioned by %q", settings.PartitionKeyPath)
}
