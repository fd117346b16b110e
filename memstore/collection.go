package memstore

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/docstore/store"
)

type itemKey struct {
	partitionKey string
	id           string
}

type entry struct {
	seq       int64
	body      map[string]any
	etag      string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// document renders the stored body with its system properties.
func (e *entry) document() (store.Document, error) {
	out := make(map[string]any, len(e.body)+1)
	for k, v := range e.body {
		out[k] = v
	}
	out[store.ETagField] = e.etag
	return json.Marshal(out)
}

type collection struct {
	settings   store.CollectionSettings
	uniqueKeys [][]string
	ttl        time.Duration
	docs       map[itemKey]*entry
}

func newCollection(settings store.CollectionSettings, defaultTTL *int) *collection {
	if settings.PartitionKeyPath == "" {
		settings.PartitionKeyPath = store.DefaultPartitionKeyPath
	}
	c := &collection{
		settings:   settings,
		uniqueKeys: settings.UniqueKeys(),
		docs:       make(map[itemKey]*entry),
	}
	if defaultTTL != nil && *defaultTTL > 0 {
		c.ttl = time.Duration(*defaultTTL) * time.Second
	}
	return c
}

// parse decodes a document and extracts its key.
func (c *collection) parse(doc store.Document) (map[string]any, itemKey, error) {
	m, err := store.DecodeDocument(doc)
	if err != nil {
		return nil, itemKey{}, badRequest(err.Error())
	}
	id, ok := m[store.IDField].(string)
	if !ok || id == "" {
		return nil, itemKey{}, badRequest("The input content is invalid because the required properties - 'id; ' - are missing")
	}
	pk, err := store.PartitionKeyValue(m, c.settings.PartitionKeyPath)
	if err != nil {
		return nil, itemKey{}, badRequest("PartitionKey extracted from document doesn't match the one specified in the header")
	}
	delete(m, store.ETagField)
	return m, itemKey{partitionKey: pk, id: id}, nil
}

// live returns the entry for key unless it is absent or expired.
func (c *collection) live(key itemKey, now time.Time) (*entry, bool) {
	e, ok := c.docs[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(c.docs, key)
		return nil, false
	}
	return e, true
}

// checkUnique fails with 409 when another live document in the partition has the
// same values for any unique key.
func (c *collection) checkUnique(key itemKey, body map[string]any, now time.Time) error {
	if len(c.uniqueKeys) == 0 {
		return nil
	}
	for _, paths := range c.uniqueKeys {
		want := strings.Join(store.UniqueKeyValues(body, paths), "\x00")
		for other, e := range c.docs {
			if other == key || other.partitionKey != key.partitionKey || e.expired(now) {
				continue
			}
			if strings.Join(store.UniqueKeyValues(e.body, paths), "\x00") == want {
				return &store.Failure{
					StatusCode:   http.StatusConflict,
					ResourceType: store.ResourceDocument,
					Message:      "Unique index constraint violation.",
				}
			}
		}
	}
	return nil
}

func (c *collection) put(key itemKey, body map[string]any, seq int64, now time.Time) *entry {
	e := &entry{seq: seq, body: body, etag: `"` + uuid.NewString() + `"`}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}
	c.docs[key] = e
	return e
}

func badRequest(msg string) error {
	return &store.Failure{StatusCode: http.StatusBadRequest, Message: msg}
}

func conflict() error {
	return &store.Failure{
		StatusCode:   http.StatusConflict,
		ResourceType: store.ResourceDocument,
		Message:      "Entity with the specified id already exists in the system.",
	}
}

func preconditionFailed() error {
	return &store.Failure{
		StatusCode:   http.StatusPreconditionFailed,
		ResourceType: store.ResourceDocument,
		Message:      "Operation cannot be performed because one of the specified precondition is not met.",
	}
}

func missingDocument(ref store.CollectionRef, id string) error {
	return store.NotFound(store.ResourceDocument, "Document %s does not exist in %s", id, ref)
}
