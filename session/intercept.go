package session

import (
	"context"

	"github.com/jacentio/docstore/store"
)

// Intercept returns middleware that attaches p's token to every call, unless the
// caller supplied one, and stores every token a response returns.
func Intercept(p Provider) store.Middleware {
	return func(next store.Transport) store.Transport {
		return &interceptor{next: next, provider: p}
	}
}

type interceptor struct {
	next     store.Transport
	provider Provider
}

func (i *interceptor) attach(ctx context.Context, opts store.ItemOptions) store.ItemOptions {
	if opts.SessionToken == "" {
		opts.SessionToken = i.provider.SessionToken(ctx)
	}
	return opts
}

func (i *interceptor) capture(ctx context.Context, token string) {
	if token != "" {
		i.provider.SetSessionToken(ctx, token)
	}
}

func (i *interceptor) item(ctx context.Context, opts store.ItemOptions,
	call func(store.ItemOptions) (store.ItemResponse, error)) (store.ItemResponse, error) {
	resp, err := call(i.attach(ctx, opts))
	i.capture(ctx, resp.SessionToken)
	return resp, err
}

func (i *interceptor) CreateItem(ctx context.Context, ref store.CollectionRef, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	return i.item(ctx, opts, func(o store.ItemOptions) (store.ItemResponse, error) {
		return i.next.CreateItem(ctx, ref, doc, o)
	})
}

func (i *interceptor) UpsertItem(ctx context.Context, ref store.CollectionRef, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	return i.item(ctx, opts, func(o store.ItemOptions) (store.ItemResponse, error) {
		return i.next.UpsertItem(ctx, ref, doc, o)
	})
}

func (i *interceptor) ReplaceItem(ctx context.Context, ref store.CollectionRef, id string, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	return i.item(ctx, opts, func(o store.ItemOptions) (store.ItemResponse, error) {
		return i.next.ReplaceItem(ctx, ref, id, doc, o)
	})
}

func (i *interceptor) DeleteItem(ctx context.Context, ref store.CollectionRef, id, partitionKey string, opts store.ItemOptions) (store.ItemResponse, error) {
	return i.item(ctx, opts, func(o store.ItemOptions) (store.ItemResponse, error) {
		return i.next.DeleteItem(ctx, ref, id, partitionKey, o)
	})
}

func (i *interceptor) ReadItem(ctx context.Context, ref store.CollectionRef, id, partitionKey string, opts store.ItemOptions) (store.ItemResponse, error) {
	return i.item(ctx, opts, func(o store.ItemOptions) (store.ItemResponse, error) {
		return i.next.ReadItem(ctx, ref, id, partitionKey, o)
	})
}

func (i *interceptor) QueryItems(ctx context.Context, ref store.CollectionRef, q store.Query, continuation string, opts store.ItemOptions) (store.QueryPage, error) {
	page, err := i.next.QueryItems(ctx, ref, q, continuation, i.attach(ctx, opts))
	i.capture(ctx, page.SessionToken)
	return page, err
}
