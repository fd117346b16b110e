package store

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// DefaultRetryAfter is the throttling delay used when the store suggests none.
const DefaultRetryAfter = time.Second

// Op names a facade operation for classification and reporting.
type Op string

const (
	OpCreate  Op = "create"
	OpUpsert  Op = "upsert"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
	OpRead    Op = "read"
	OpQuery   Op = "query"
)

// Action determines how the retry policy handles a failure.
type Action int

const (
	// ActionRethrow reports the failure and returns it unchanged.
	ActionRethrow Action = iota

	// ActionRetryAfterDelay waits Decision.Delay and retries.
	ActionRetryAfterDelay

	// ActionRetryAfterInvalidate drops the cached connection and retries.
	ActionRetryAfterInvalidate

	// ActionTranslate returns Decision.Err without reporting it.
	ActionTranslate

	// ActionNotFound marks an absent target of an idempotent delete.
	ActionNotFound
)

func (a Action) String() string {
	switch a {
	case ActionRetryAfterDelay:
		return "retry-after-delay"
	case ActionRetryAfterInvalidate:
		return "retry-after-invalidate"
	case ActionTranslate:
		return "translate"
	case ActionNotFound:
		return "not-found"
	default:
		return "rethrow"
	}
}

// Decision is the outcome of classifying a failure.
type Decision struct {
	Action Action

	// Delay is set for ActionRetryAfterDelay.
	Delay time.Duration

	// Err is the error to return for ActionTranslate and ActionNotFound.
	Err error
}

// Classify maps an operation failure to the policy's action. It is a pure function.
//
// Deletes treat every not-found as an absent document, including a missing
// collection. For other operations a 404 on a collection or database invalidates
// the connection (the collection may have been removed externally and is
// re-provisioned on reconnect) while a 404 on a document is ErrMissingDocument.
func Classify(op Op, err error) Decision {
	if err == nil {
		return Decision{Action: ActionRethrow}
	}

	// Caller and configuration errors pass through untouched and unreported.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrConfiguration) || errors.Is(err, ErrInvalidArgument) {
		return Decision{Action: ActionTranslate, Err: err}
	}

	var f *Failure
	if !errors.As(err, &f) {
		return Decision{Action: ActionRethrow}
	}

	switch f.StatusCode {
	case http.StatusNotFound:
		if op == OpDelete {
			return Decision{Action: ActionNotFound, Err: translate(ErrMissingDocument, f)}
		}
		switch f.Resource() {
		case ResourceCollection, ResourceDatabase:
			return Decision{Action: ActionRetryAfterInvalidate}
		}
		return Decision{Action: ActionTranslate, Err: translate(ErrMissingDocument, f)}

	case http.StatusPreconditionFailed:
		return Decision{Action: ActionTranslate, Err: translate(ErrStaleData, f)}

	case http.StatusTooManyRequests:
		delay := f.RetryAfter
		if delay <= 0 {
			delay = DefaultRetryAfter
		}
		return Decision{Action: ActionRetryAfterDelay, Delay: delay}

	case http.StatusConflict:
		return Decision{Action: ActionTranslate, Err: translate(ErrConflict, f)}
	}

	return Decision{Action: ActionRethrow}
}
