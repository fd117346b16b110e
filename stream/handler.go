// Package stream provides a DynamoDB Streams handler that releases unique-key
// rows of documents removed by time-to-live expiry or overwritten while expired.
//
// Collections with unique keys are created with a NEW_AND_OLD_IMAGES stream.
// Deletes and replaces issued through the dynamo transport already move the rows
// transactionally; the handler covers the removals DynamoDB makes itself.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docstore/dynamo"
)

// Deleter is the DynamoDB call the handler makes.
type Deleter interface {
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Handler processes DynamoDB stream events of collection tables.
type Handler struct {
	api    Deleter
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(api Deleter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		api:    api,
		logger: logger,
	}
}

// HandleEvent releases the unique-key rows no longer referenced by a document.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord releases the rows listed in the old image but not the new one.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" && record.EventName != "MODIFY" {
		return nil
	}

	released := getStringListAttr(record.Change.OldImage, dynamo.AttrUniqueKeys)
	kept := getStringListAttr(record.Change.NewImage, dynamo.AttrUniqueKeys)
	released = slices.DeleteFunc(released, func(pk string) bool {
		return slices.Contains(kept, pk)
	})
	if len(released) == 0 {
		return nil
	}

	table, ok := tableFromARN(record.EventSourceArn)
	if !ok {
		return fmt.Errorf("unrecognised event source %q", record.EventSourceArn)
	}
	ref, ok := dynamo.ParseTableName(table)
	if !ok {
		return fmt.Errorf("table %q is not a collection table", table)
	}

	id := getStringAttr(record.Change.OldImage, dynamo.AttrID)
	owner := dynamo.UniqueOwner(table, getStringAttr(record.Change.OldImage, dynamo.AttrPartitionKey), id)

	h.logger.Info("releasing unique keys",
		"table", table,
		"id", id,
		"event", record.EventName,
		"expiredAt", getNumberAttr(record.Change.OldImage, dynamo.AttrTTL),
		"count", len(released),
	)

	for _, pk := range released {
		if err := h.release(ctx, dynamo.UniqueTableName(ref.Database), pk, owner); err != nil {
			return fmt.Errorf("release unique key %s: %w", pk, err)
		}
	}
	return nil
}

// release deletes a unique-key row if owner still holds it.
func (h *Handler) release(ctx context.Context, table, pk, owner string) error {
	_, err := h.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			dynamo.AttrUniquePK: &types.AttributeValueMemberS{Value: pk},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": dynamo.AttrUniqueOwner},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		// Already released, or taken over by another document.
		h.logger.Debug("unique key not held", "pk", pk, "owner", owner)
		return nil
	}
	return err
}

// tableFromARN extracts the table name from a stream or table ARN,
// e.g. arn:aws:dynamodb:eu-west-1:123456789012:table/shop.customers/stream/2024-01-01T00:00:00.000.
func tableFromARN(arn string) (string, bool) {
	_, resource, ok := strings.Cut(arn, ":table/")
	if !ok {
		return "", false
	}
	table, _, _ := strings.Cut(resource, "/")
	return table, table != ""
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeList {
			var result []string
			for _, item := range v.List() {
				if item.DataType() == events.DataTypeString {
					result = append(result, item.String())
				}
			}
			return result
		}
	}
	return nil
}
