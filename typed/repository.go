// Package typed provides a type-safe view over a store.Repository. Values are
// converted with encoding/json; T must marshal to an object carrying "id" and the
// collection's partition key.
package typed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jacentio/docstore/store"
)

// Repository wraps a store.Repository to read and write values of type T.
type Repository[T any] struct {
	repo *store.Repository
}

// NewRepository creates a type-safe wrapper around an existing repository.
func NewRepository[T any](repo *store.Repository) *Repository[T] {
	return &Repository[T]{repo: repo}
}

// Untyped returns the wrapped repository.
func (r *Repository[T]) Untyped() *store.Repository {
	return r.repo
}

// UseCollection switches the active collection of the wrapped repository.
func (r *Repository[T]) UseCollection(collectionName, databaseID string) error {
	return r.repo.UseCollection(collectionName, databaseID)
}

// Create inserts v.
func (r *Repository[T]) Create(ctx context.Context, v T) (store.Envelope[T], error) {
	doc, err := encode(v)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	env, err := r.repo.Create(ctx, doc)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	return decodeEnvelope[T](env)
}

// Upsert inserts v or replaces the stored value with the same id.
func (r *Repository[T]) Upsert(ctx context.Context, v T) (store.Envelope[T], error) {
	doc, err := encode(v)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	env, err := r.repo.Upsert(ctx, doc)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	return decodeEnvelope[T](env)
}

// Replace replaces the value with the given id, conditionally on etag when set.
func (r *Repository[T]) Replace(ctx context.Context, id string, v T, etag string) (store.Envelope[T], error) {
	doc, err := encode(v)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	env, err := r.repo.Replace(ctx, id, doc, etag)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	return decodeEnvelope[T](env)
}

// Read returns the value with the given id and partition key.
func (r *Repository[T]) Read(ctx context.Context, id, partitionKey string) (store.Envelope[T], error) {
	env, err := r.repo.Read(ctx, id, partitionKey)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	return decodeEnvelope[T](env)
}

// Delete removes a value and reports whether it existed.
func (r *Repository[T]) Delete(ctx context.Context, id, partitionKey string) (bool, error) {
	return r.repo.Delete(ctx, id, partitionKey)
}

// Query returns every value matching q.
func (r *Repository[T]) Query(ctx context.Context, q *store.Query) ([]T, error) {
	docs, err := r.repo.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for i, doc := range docs {
		v, err := decode[T](doc)
		if err != nil {
			return nil, fmt.Errorf("query result %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// QueryWithEnvelope returns every value matching q with its etag.
func (r *Repository[T]) QueryWithEnvelope(ctx context.Context, q *store.Query) ([]store.Envelope[T], error) {
	envs, err := r.repo.QueryWithEnvelope(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]store.Envelope[T], 0, len(envs))
	for i, env := range envs {
		typed, err := decodeEnvelope[T](env)
		if err != nil {
			return nil, fmt.Errorf("query result %d: %w", i, err)
		}
		out = append(out, typed)
	}
	return out, nil
}

func encode[T any](v T) (store.Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %T: %v", store.ErrInvalidArgument, v, err)
	}
	return store.Document(b), nil
}

func decode[T any](doc store.Document) (T, error) {
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return v, fmt.Errorf("unmarshal to %T failed: %w", v, err)
	}
	return v, nil
}

func decodeEnvelope[T any](env store.Envelope[store.Document]) (store.Envelope[T], error) {
	v, err := decode[T](env.Document)
	if err != nil {
		return store.Envelope[T]{}, err
	}
	return store.Envelope[T]{Document: v, ETag: env.ETag, SessionToken: env.SessionToken}, nil
}
