package store_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jacentio/docstore/store"
)

func TestClassify(t *testing.T) {
	collectionMissing := &store.Failure{StatusCode: http.StatusNotFound, Message: "Message: {\"Errors\":[\"Resource Not Found\"]}, ResourceType: Collection"}
	databaseMissing := store.NotFound(store.ResourceDatabase, "Database shop does not exist")
	documentMissing := store.NotFound(store.ResourceDocument, "Document o1 does not exist")
	bareNotFound := &store.Failure{StatusCode: http.StatusNotFound}
	stale := &store.Failure{StatusCode: http.StatusPreconditionFailed}
	conflict := &store.Failure{StatusCode: http.StatusConflict}
	throttled := &store.Failure{StatusCode: http.StatusTooManyRequests, RetryAfter: 250 * time.Millisecond}
	throttledNoHint := &store.Failure{StatusCode: http.StatusTooManyRequests}
	serverError := &store.Failure{StatusCode: http.StatusInternalServerError}

	tests := []struct {
		name     string
		op       store.Op
		err      error
		action   store.Action
		delay    time.Duration
		sentinel error
	}{
		{"collection missing", store.OpRead, collectionMissing, store.ActionRetryAfterInvalidate, 0, nil},
		{"collection missing wrapped", store.OpQuery, fmt.Errorf("query: %w", collectionMissing), store.ActionRetryAfterInvalidate, 0, nil},
		{"database missing", store.OpCreate, databaseMissing, store.ActionRetryAfterInvalidate, 0, nil},
		{"document missing", store.OpRead, documentMissing, store.ActionTranslate, 0, store.ErrMissingDocument},
		{"not found without resource", store.OpReplace, bareNotFound, store.ActionTranslate, 0, store.ErrMissingDocument},
		{"delete document missing", store.OpDelete, documentMissing, store.ActionNotFound, 0, store.ErrMissingDocument},
		{"delete collection missing", store.OpDelete, collectionMissing, store.ActionNotFound, 0, store.ErrMissingDocument},
		{"precondition failed", store.OpReplace, stale, store.ActionTranslate, 0, store.ErrStaleData},
		{"conflict", store.OpCreate, conflict, store.ActionTranslate, 0, store.ErrConflict},
		{"throttled", store.OpUpsert, throttled, store.ActionRetryAfterDelay, 250 * time.Millisecond, nil},
		{"throttled default delay", store.OpUpsert, throttledNoHint, store.ActionRetryAfterDelay, store.DefaultRetryAfter, nil},
		{"server error", store.OpCreate, serverError, store.ActionRethrow, 0, nil},
		{"plain error", store.OpCreate, errors.New("boom"), store.ActionRethrow, 0, nil},
		{"canceled", store.OpRead, context.Canceled, store.ActionTranslate, 0, context.Canceled},
		{"configuration", store.OpRead, &store.ConfigError{Field: "key", Reason: "is not defined"}, store.ActionTranslate, 0, store.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := store.Classify(tt.op, tt.err)
			if d.Action != tt.action {
				t.Errorf("expected action %s, got %s", tt.action, d.Action)
			}
			if d.Delay != tt.delay {
				t.Errorf("expected delay %s, got %s", tt.delay, d.Delay)
			}
			if tt.sentinel != nil && !errors.Is(d.Err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, d.Err)
			}
		})
	}
}

func TestClassify_TranslatedKeepsFailure(t *testing.T) {
	stale := &store.Failure{StatusCode: http.StatusPreconditionFailed, Message: "etag mismatch"}
	d := store.Classify(store.OpReplace, stale)

	var f *store.Failure
	if !errors.As(d.Err, &f) {
		t.Fatalf("expected translated error to wrap *Failure, got %v", d.Err)
	}
	if f != stale {
		t.Error("expected the original failure")
	}
}

func TestFailure_Resource(t *testing.T) {
	tests := []struct {
		failure  *store.Failure
		expected store.ResourceType
	}{
		{&store.Failure{ResourceType: store.ResourceDocument, Message: "ResourceType: Collection"}, store.ResourceDocument},
		{&store.Failure{Message: "Owner resource does not exist, ResourceType: Collection"}, store.ResourceCollection},
		{&store.Failure{Message: "ResourceType: Database"}, store.ResourceDatabase},
		{&store.Failure{Message: "ResourceType: Document"}, store.ResourceDocument},
		{&store.Failure{Message: "Resource Not Found"}, store.ResourceUnknown},
	}
	for _, tt := range tests {
		if got := tt.failure.Resource(); got != tt.expected {
			t.Errorf("Resource() for %q = %q, want %q", tt.failure.Message, got, tt.expected)
		}
	}
}

func TestFailure_Error(t *testing.T) {
	f := store.NotFound(store.ResourceCollection, "Collection %s does not exist", "shop/orders")
	expected := "docstore: Not Found (404): Collection shop/orders does not exist, ResourceType: Collection"
	if f.Error() != expected {
		t.Errorf("expected %q, got %q", expected, f.Error())
	}

	bare := &store.Failure{StatusCode: http.StatusTooManyRequests}
	if bare.Error() != "docstore: Too Many Requests (429)" {
		t.Errorf("unexpected message %q", bare.Error())
	}
}

func TestActionString(t *testing.T) {
	tests := map[store.Action]string{
		store.ActionRethrow:              "rethrow",
		store.ActionRetryAfterDelay:      "retry-after-delay",
		store.ActionRetryAfterInvalidate: "retry-after-invalidate",
		store.ActionTranslate:            "translate",
		store.ActionNotFound:             "not-found",
	}
	for a, expected := range tests {
		if a.String() != expected {
			t.Errorf("expected %q, got %q", expected, a.String())
		}
	}
}
