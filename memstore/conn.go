package memstore

import (
	"context"
	"sort"
	"strconv"

	"github.com/jacentio/docstore/store"
)

// conn is a connection to a Server. Calls keep working after Close so that
// requests in flight during invalidation complete.
type conn struct {
	server *Server
}

var _ store.Connection = (*conn)(nil)

func (c *conn) Close() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.closes++
	return nil
}

func (c *conn) EnsureDatabase(ctx context.Context, database string, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[database]; !ok {
		s.databases[database] = make(map[string]*collection)
	}
	return nil
}

func (c *conn) EnsureCollection(ctx context.Context, database string, settings store.CollectionSettings, _ int, defaultTTL *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	colls, ok := s.databases[database]
	if !ok {
		return store.NotFound(store.ResourceDatabase, "Database %s does not exist", database)
	}
	if _, ok := colls[settings.Name]; !ok {
		colls[settings.Name] = newCollection(settings, defaultTTL)
	}
	return nil
}

func (c *conn) CreateItem(ctx context.Context, ref store.CollectionRef, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	return c.write(ctx, store.OpCreate, ref, opts, func(coll *collection, next int64) (*entry, error) {
		s := c.server
		body, key, err := coll.parse(doc)
		if err != nil {
			return nil, err
		}
		if _, ok := coll.live(key, s.now()); ok {
			return nil, conflict()
		}
		if err := coll.checkUnique(key, body, s.now()); err != nil {
			return nil, err
		}
		return coll.put(key, body, next, s.now()), nil
	})
}

func (c *conn) UpsertItem(ctx context.Context, ref store.CollectionRef, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	return c.write(ctx, store.OpUpsert, ref, opts, func(coll *collection, next int64) (*entry, error) {
		s := c.server
		body, key, err := coll.parse(doc)
		if err != nil {
			return nil, err
		}
		seq := next
		if e, ok := coll.live(key, s.now()); ok {
			if opts.IfMatch != "" && opts.IfMatch != e.etag {
				return nil, preconditionFailed()
			}
			seq = e.seq
		}
		if err := coll.checkUnique(key, body, s.now()); err != nil {
			return nil, err
		}
		return coll.put(key, body, seq, s.now()), nil
	})
}

func (c *conn) ReplaceItem(ctx context.Context, ref store.CollectionRef, id string, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	return c.write(ctx, store.OpReplace, ref, opts, func(coll *collection, _ int64) (*entry, error) {
		s := c.server
		body, key, err := coll.parse(doc)
		if err != nil {
			return nil, err
		}
		if key.id != id {
			return nil, badRequest("The id in the document does not match the id of the replaced document")
		}
		e, ok := coll.live(key, s.now())
		if !ok {
			return nil, missingDocument(ref, id)
		}
		if opts.IfMatch != "" && opts.IfMatch != e.etag {
			return nil, preconditionFailed()
		}
		if err := coll.checkUnique(key, body, s.now()); err != nil {
			return nil, err
		}
		return coll.put(key, body, e.seq, s.now()), nil
	})
}

func (c *conn) DeleteItem(ctx context.Context, ref store.CollectionRef, id, partitionKey string, opts store.ItemOptions) (store.ItemResponse, error) {
	if err := c.server.before(store.OpDelete, ref, opts); err != nil {
		return store.ItemResponse{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.ItemResponse{}, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collectionLocked(ref)
	if err != nil {
		return store.ItemResponse{}, err
	}
	key := itemKey{partitionKey: partitionKey, id: id}
	e, ok := coll.live(key, s.now())
	if !ok {
		return store.ItemResponse{}, missingDocument(ref, id)
	}
	if opts.IfMatch != "" && opts.IfMatch != e.etag {
		return store.ItemResponse{}, preconditionFailed()
	}
	delete(coll.docs, key)
	return store.ItemResponse{SessionToken: s.commitLocked()}, nil
}

func (c *conn) ReadItem(ctx context.Context, ref store.CollectionRef, id, partitionKey string, opts store.ItemOptions) (store.ItemResponse, error) {
	if err := c.server.before(store.OpRead, ref, opts); err != nil {
		return store.ItemResponse{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.ItemResponse{}, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collectionLocked(ref)
	if err != nil {
		return store.ItemResponse{}, err
	}
	e, ok := coll.live(itemKey{partitionKey: partitionKey, id: id}, s.now())
	if !ok {
		return store.ItemResponse{}, missingDocument(ref, id)
	}
	doc, err := e.document()
	if err != nil {
		return store.ItemResponse{}, err
	}
	return store.ItemResponse{Document: doc, ETag: e.etag, SessionToken: s.sessionTokenLocked()}, nil
}

func (c *conn) QueryItems(ctx context.Context, ref store.CollectionRef, q store.Query, continuation string, opts store.ItemOptions) (store.QueryPage, error) {
	if err := c.server.before(store.OpQuery, ref, opts); err != nil {
		return store.QueryPage{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.QueryPage{}, err
	}
	parsed, err := parseQuery(q.Statement, q.Parameters)
	if err != nil {
		return store.QueryPage{}, badRequest(err.Error())
	}
	offset := 0
	if continuation != "" {
		if offset, err = strconv.Atoi(continuation); err != nil || offset < 0 {
			return store.QueryPage{}, badRequest("Invalid continuation token")
		}
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collectionLocked(ref)
	if err != nil {
		return store.QueryPage{}, err
	}

	now := s.now()
	var matched []*entry
	for key, e := range coll.docs {
		if e.expired(now) {
			continue
		}
		if q.PartitionKey != "" && key.partitionKey != q.PartitionKey {
			continue
		}
		if parsed.matches(e.body) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	parsed.sort(matched)

	page := store.QueryPage{SessionToken: s.sessionTokenLocked()}
	end := min(offset+s.pageSize, len(matched))
	for i := offset; i < end; i++ {
		doc, err := parsed.project(matched[i])
		if err != nil {
			return store.QueryPage{}, err
		}
		page.Items = append(page.Items, doc)
	}
	if end < len(matched) {
		page.Continuation = strconv.Itoa(end)
	}
	return page, nil
}

// write runs a mutating call under the server lock and renders its response.
func (c *conn) write(ctx context.Context, op store.Op, ref store.CollectionRef, opts store.ItemOptions, fn func(coll *collection, seq int64) (*entry, error)) (store.ItemResponse, error) {
	if err := c.server.before(op, ref, opts); err != nil {
		return store.ItemResponse{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.ItemResponse{}, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collectionLocked(ref)
	if err != nil {
		return store.ItemResponse{}, err
	}
	e, err := fn(coll, s.seq+1)
	if err != nil {
		return store.ItemResponse{}, err
	}
	if e.seq == s.seq+1 {
		s.nextSeqLocked()
	}
	doc, err := e.document()
	if err != nil {
		return store.ItemResponse{}, err
	}
	return store.ItemResponse{Document: doc, ETag: e.etag, SessionToken: s.commitLocked()}, nil
}
