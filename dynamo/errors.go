package dynamo

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/docstore/store"
)

const conditionalCheckFailed = "ConditionalCheckFailed"

// mapError converts a DynamoDB error to a *store.Failure so the retry policy can
// classify it. Errors without a store meaning are returned unchanged.
func mapError(err error, ref store.CollectionRef) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		f := store.NotFound(store.ResourceCollection, "Table %s does not exist", TableName(ref))
		f.Err = err
		return f
	}

	var throughput *types.ProvisionedThroughputExceededException
	var limit *types.RequestLimitExceeded
	var txConflict *types.TransactionConflictException
	if errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &txConflict) {
		return throttled(err)
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ThrottlingError", "ProvisionedThroughputExceeded", "TransactionConflict":
				return throttled(err)
			}
		}
	}

	var internal *types.InternalServerError
	if errors.As(err, &internal) {
		return failure(http.StatusInternalServerError, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException":
			return throttled(err)
		case "ValidationException", "SerializationException":
			return failure(http.StatusBadRequest, err)
		case "UnrecognizedClientException", "InvalidSignatureException", "MissingAuthenticationToken",
			"ExpiredTokenException", "IncompleteSignature":
			return failure(http.StatusUnauthorized, err)
		case "AccessDeniedException":
			return failure(http.StatusForbidden, err)
		case "ServiceUnavailable":
			return failure(http.StatusServiceUnavailable, err)
		}
	}

	return err
}

func failure(status int, err error) *store.Failure {
	return &store.Failure{StatusCode: status, Message: err.Error(), Err: err}
}

func throttled(err error) *store.Failure {
	return failure(http.StatusTooManyRequests, err)
}

func conflict(msg string, err error) *store.Failure {
	return &store.Failure{StatusCode: http.StatusConflict, ResourceType: store.ResourceDocument, Message: msg, Err: err}
}

func preconditionFailed(err error) *store.Failure {
	return &store.Failure{
		StatusCode:   http.StatusPreconditionFailed,
		ResourceType: store.ResourceDocument,
		Message:      "etag does not match the stored document",
		Err:          err,
	}
}

func missingDocument(ref store.CollectionRef, id string, err error) *store.Failure {
	f := store.NotFound(store.ResourceDocument, "Document %s does not exist in %s", id, ref)
	f.Err = err
	return f
}

// cancelledIndex returns the index of the first transaction item that failed its
// condition, or -1.
func cancelledIndex(err error) int {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return -1
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code != nil && *reason.Code == conditionalCheckFailed {
			return i
		}
	}
	return -1
}
