package dynamo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go/middleware"
	"github.com/google/uuid"

	"github.com/jacentio/docstore/internal/shard"
	"github.com/jacentio/docstore/store"
)

const (
	createCondition  = "attribute_not_exists(id) OR #ttl <= :now"
	existsCondition  = "attribute_exists(id) AND " + liveCondition
	etagCondition    = "#etag = :etag"
	uniqueCondition  = "attribute_not_exists(#pk) OR #owner = :owner"
	msgIDExists      = "Entity with the specified id already exists in the system."
	msgUniqueViolate = "Unique index constraint violation."

	// maxRaceAttempts bounds re-reads when an unconditional write keeps losing
	// the document row to concurrent writers.
	maxRaceAttempts = 5
)

var errRaced = errors.New("dynamo: document changed during write")

// prepared is a document converted to an item with fresh system attributes.
type prepared struct {
	ref       store.CollectionRef
	id        string
	pk        string
	etag      string
	item      map[string]types.AttributeValue
	uniquePKs []string
}

func (p *prepared) key() map[string]types.AttributeValue {
	return itemKey(p.pk, p.id)
}

func (p *prepared) owner() string {
	return UniqueOwner(TableName(p.ref), p.pk, p.id)
}

func itemKey(pk, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPartitionKey: &types.AttributeValueMemberS{Value: pk},
		AttrID:           &types.AttributeValueMemberS{Value: id},
	}
}

func (c *Conn) prepare(ref store.CollectionRef, doc store.Document) (*prepared, error) {
	settings := c.settings(ref)

	m, err := store.DecodeDocument(doc)
	if err != nil {
		return nil, failure(http.StatusBadRequest, err)
	}
	id, ok := m[store.IDField].(string)
	if !ok || id == "" {
		return nil, &store.Failure{StatusCode: http.StatusBadRequest, Message: "document has no string id"}
	}
	pk, err := store.PartitionKeyValue(m, settings.PartitionKeyPath)
	if err != nil {
		return nil, failure(http.StatusBadRequest, err)
	}
	for _, sys := range []string{AttrPartitionKey, AttrETag, AttrTTL, AttrUniqueKeys} {
		delete(m, sys)
	}

	item, err := toAttributeMap(m)
	if err != nil {
		return nil, failure(http.StatusBadRequest, err)
	}

	p := &prepared{ref: ref, id: id, pk: pk, etag: `"` + uuid.NewString() + `"`, item: item}
	item[AttrPartitionKey] = &types.AttributeValueMemberS{Value: pk}
	item[AttrETag] = &types.AttributeValueMemberS{Value: p.etag}
	if ttl := c.ttl(); ttl > 0 {
		item[AttrTTL] = numberAttr(c.opts.now().Add(ttl).Unix())
	}

	for _, paths := range settings.UniqueKeys() {
		p.uniquePKs = append(p.uniquePKs, shard.UniqueKeyPK(TableName(ref), pk, paths, store.UniqueKeyValues(m, paths)))
	}
	if len(p.uniquePKs) > 0 {
		list, err := attributevalue.MarshalList(p.uniquePKs)
		if err != nil {
			return nil, err
		}
		item[AttrUniqueKeys] = &types.AttributeValueMemberL{Value: list}
	}
	return p, nil
}

func (c *Conn) respond(item map[string]types.AttributeValue, md middleware.Metadata) (store.ItemResponse, error) {
	doc, err := itemToDocument(item)
	if err != nil {
		return store.ItemResponse{}, err
	}
	return store.ItemResponse{
		Document:     doc,
		ETag:         stringAttr(item, AttrETag),
		SessionToken: sessionTokenFrom(md),
	}, nil
}

func (c *Conn) nowValue() types.AttributeValue {
	return numberAttr(c.opts.now().Unix())
}

// CreateItem implements store.Transport. An expired document with the same id is overwritten.
func (c *Conn) CreateItem(ctx context.Context, ref store.CollectionRef, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	p, err := c.prepare(ref, doc)
	if err != nil {
		return store.ItemResponse{}, err
	}
	return c.create(ctx, p, opts, func(err error) error {
		return conflict(msgIDExists, err)
	})
}

// create inserts p. onRace maps a failed document condition.
func (c *Conn) create(ctx context.Context, p *prepared, opts store.ItemOptions, onRace func(error) error) (store.ItemResponse, error) {
	names := map[string]string{"#ttl": AttrTTL}
	values := map[string]types.AttributeValue{":now": c.nowValue()}

	if len(p.uniquePKs) == 0 {
		out, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(TableName(p.ref)),
			Item:                      p.item,
			ConditionExpression:       aws.String(createCondition),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}, withSessionToken(opts.SessionToken)...)
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				return store.ItemResponse{}, onRace(err)
			}
			return store.ItemResponse{}, mapError(err, p.ref)
		}
		return c.respond(p.item, out.ResultMetadata)
	}

	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                 aws.String(TableName(p.ref)),
			Item:                      p.item,
			ConditionExpression:       aws.String(createCondition),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	}}
	items = append(items, c.uniquePuts(p, p.uniquePKs)...)

	out, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items},
		withSessionToken(opts.SessionToken)...)
	if err != nil {
		return store.ItemResponse{}, c.mapWriteError(err, p.ref, onRace)
	}
	return c.respond(p.item, out.ResultMetadata)
}

// UpsertItem implements store.Transport.
func (c *Conn) UpsertItem(ctx context.Context, ref store.CollectionRef, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	p, err := c.prepare(ref, doc)
	if err != nil {
		return store.ItemResponse{}, err
	}

	if len(p.uniquePKs) == 0 {
		out, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(TableName(ref)),
			Item:      p.item,
		}, withSessionToken(opts.SessionToken)...)
		if err != nil {
			return store.ItemResponse{}, mapError(err, ref)
		}
		return c.respond(p.item, out.ResultMetadata)
	}

	// Unique keys need the stored document to know which rows to release.
	onRace := raceHandler(opts)
	return retryRaced(ctx, func() (store.ItemResponse, error) {
		current, err := c.getLive(ctx, ref, p.pk, p.id, opts)
		if err != nil {
			return store.ItemResponse{}, err
		}
		if current == nil {
			return c.create(ctx, p, opts, onRace)
		}
		return c.rewrite(ctx, p, current, opts, onRace)
	})
}

// ReplaceItem implements store.Transport.
func (c *Conn) ReplaceItem(ctx context.Context, ref store.CollectionRef, id string, doc store.Document, opts store.ItemOptions) (store.ItemResponse, error) {
	p, err := c.prepare(ref, doc)
	if err != nil {
		return store.ItemResponse{}, err
	}
	if p.id != id {
		return store.ItemResponse{}, &store.Failure{StatusCode: http.StatusBadRequest, Message: "document id does not match the replaced id"}
	}

	if len(p.uniquePKs) == 0 {
		cond := existsCondition
		names := map[string]string{"#ttl": AttrTTL}
		values := map[string]types.AttributeValue{":now": c.nowValue()}
		if opts.IfMatch != "" {
			cond += " AND " + etagCondition
			names["#etag"] = AttrETag
			values[":etag"] = &types.AttributeValueMemberS{Value: opts.IfMatch}
		}

		out, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                           aws.String(TableName(ref)),
			Item:                                p.item,
			ConditionExpression:                 aws.String(cond),
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}, withSessionToken(opts.SessionToken)...)
		if err != nil {
			return store.ItemResponse{}, c.mapConditionalError(err, ref, id)
		}
		return c.respond(p.item, out.ResultMetadata)
	}

	onRace := raceHandler(opts)
	return retryRaced(ctx, func() (store.ItemResponse, error) {
		current, err := c.getLive(ctx, ref, p.pk, id, opts)
		if err != nil {
			return store.ItemResponse{}, err
		}
		if current == nil {
			return store.ItemResponse{}, missingDocument(ref, id, nil)
		}
		if opts.IfMatch != "" && opts.IfMatch != stringAttr(current, AttrETag) {
			return store.ItemResponse{}, preconditionFailed(nil)
		}
		return c.rewrite(ctx, p, current, opts, onRace)
	})
}

// rewrite replaces current with p in one transaction, moving unique-key rows.
// The write is conditional on current's etag. onRace maps a failed etag check.
func (c *Conn) rewrite(ctx context.Context, p *prepared, current map[string]types.AttributeValue, opts store.ItemOptions, onRace func(error) error) (store.ItemResponse, error) {
	var old []string
	if av, ok := current[AttrUniqueKeys]; ok {
		if err := attributevalue.Unmarshal(av, &old); err != nil {
			return store.ItemResponse{}, err
		}
	}

	var added, removed []string
	for _, pk := range p.uniquePKs {
		if !slices.Contains(old, pk) {
			added = append(added, pk)
		}
	}
	for _, pk := range old {
		if !slices.Contains(p.uniquePKs, pk) {
			removed = append(removed, pk)
		}
	}

	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                aws.String(TableName(p.ref)),
			Item:                     p.item,
			ConditionExpression:      aws.String(etagCondition),
			ExpressionAttributeNames: map[string]string{"#etag": AttrETag},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":etag": &types.AttributeValueMemberS{Value: stringAttr(current, AttrETag)},
			},
		},
	}}
	items = append(items, c.uniquePuts(p, added)...)
	items = append(items, c.uniqueDeletes(p.ref.Database, removed)...)

	out, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items},
		withSessionToken(opts.SessionToken)...)
	if err != nil {
		return store.ItemResponse{}, c.mapWriteError(err, p.ref, onRace)
	}
	return c.respond(p.item, out.ResultMetadata)
}

// DeleteItem implements store.Transport.
func (c *Conn) DeleteItem(ctx context.Context, ref store.CollectionRef, id, partitionKey string, opts store.ItemOptions) (store.ItemResponse, error) {
	if len(c.settings(ref).UniqueKeys()) == 0 {
		cond := existsCondition
		names := map[string]string{"#ttl": AttrTTL}
		values := map[string]types.AttributeValue{":now": c.nowValue()}
		if opts.IfMatch != "" {
			cond += " AND " + etagCondition
			names["#etag"] = AttrETag
			values[":etag"] = &types.AttributeValueMemberS{Value: opts.IfMatch}
		}

		out, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                           aws.String(TableName(ref)),
			Key:                                 itemKey(partitionKey, id),
			ConditionExpression:                 aws.String(cond),
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}, withSessionToken(opts.SessionToken)...)
		if err != nil {
			return store.ItemResponse{}, c.mapConditionalError(err, ref, id)
		}
		return store.ItemResponse{SessionToken: sessionTokenFrom(out.ResultMetadata)}, nil
	}

	onRace := raceHandler(opts)
	return retryRaced(ctx, func() (store.ItemResponse, error) {
		return c.deleteOwner(ctx, ref, id, partitionKey, opts, onRace)
	})
}

// deleteOwner deletes the stored document and releases its unique-key rows.
func (c *Conn) deleteOwner(ctx context.Context, ref store.CollectionRef, id, partitionKey string, opts store.ItemOptions, onRace func(error) error) (store.ItemResponse, error) {
	current, err := c.getLive(ctx, ref, partitionKey, id, opts)
	if err != nil {
		return store.ItemResponse{}, err
	}
	if current == nil {
		return store.ItemResponse{}, missingDocument(ref, id, nil)
	}
	etag := stringAttr(current, AttrETag)
	if opts.IfMatch != "" && opts.IfMatch != etag {
		return store.ItemResponse{}, preconditionFailed(nil)
	}

	var owned []string
	if av, ok := current[AttrUniqueKeys]; ok {
		if err := attributevalue.Unmarshal(av, &owned); err != nil {
			return store.ItemResponse{}, err
		}
	}

	items := []types.TransactWriteItem{{
		Delete: &types.Delete{
			TableName:                 aws.String(TableName(ref)),
			Key:                       itemKey(partitionKey, id),
			ConditionExpression:       aws.String(etagCondition),
			ExpressionAttributeNames:  map[string]string{"#etag": AttrETag},
			ExpressionAttributeValues: map[string]types.AttributeValue{":etag": &types.AttributeValueMemberS{Value: etag}},
		},
	}}
	items = append(items, c.uniqueDeletes(ref.Database, owned)...)

	out, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items},
		withSessionToken(opts.SessionToken)...)
	if err != nil {
		return store.ItemResponse{}, c.mapWriteError(err, ref, onRace)
	}
	return store.ItemResponse{SessionToken: sessionTokenFrom(out.ResultMetadata)}, nil
}

// ReadItem implements store.Transport.
func (c *Conn) ReadItem(ctx context.Context, ref store.CollectionRef, id, partitionKey string, opts store.ItemOptions) (store.ItemResponse, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(TableName(ref)),
		Key:            itemKey(partitionKey, id),
		ConsistentRead: aws.Bool(true),
	}, withSessionToken(opts.SessionToken)...)
	if err != nil {
		return store.ItemResponse{}, mapError(err, ref)
	}
	if out.Item == nil || IsExpired(out.Item, c.opts.now()) {
		return store.ItemResponse{}, missingDocument(ref, id, nil)
	}
	return c.respond(out.Item, out.ResultMetadata)
}

// getLive reads the stored item, returning nil when it is absent or expired.
func (c *Conn) getLive(ctx context.Context, ref store.CollectionRef, pk, id string, opts store.ItemOptions) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(TableName(ref)),
		Key:            itemKey(pk, id),
		ConsistentRead: aws.Bool(true),
	}, withSessionToken(opts.SessionToken)...)
	if err != nil {
		return nil, mapError(err, ref)
	}
	if out.Item == nil || IsExpired(out.Item, c.opts.now()) {
		return nil, nil
	}
	return out.Item, nil
}

func (c *Conn) uniquePuts(p *prepared, pks []string) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, len(pks))
	for _, pk := range pks {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(UniqueTableName(p.ref.Database)),
				Item: map[string]types.AttributeValue{
					AttrUniquePK:    &types.AttributeValueMemberS{Value: pk},
					AttrUniqueOwner: &types.AttributeValueMemberS{Value: p.owner()},
					AttrUniqueTable: &types.AttributeValueMemberS{Value: TableName(p.ref)},
				},
				// Fails if another document already holds this unique value
				ConditionExpression:      aws.String(uniqueCondition),
				ExpressionAttributeNames: map[string]string{"#pk": AttrUniquePK, "#owner": AttrUniqueOwner},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":owner": &types.AttributeValueMemberS{Value: p.owner()},
				},
			},
		})
	}
	return items
}

func (c *Conn) uniqueDeletes(database string, pks []string) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, len(pks))
	for _, pk := range pks {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(UniqueTableName(database)),
				Key: map[string]types.AttributeValue{
					AttrUniquePK: &types.AttributeValueMemberS{Value: pk},
				},
			},
		})
	}
	return items
}

// mapConditionalError maps a failed single-item condition using the returned old item.
func (c *Conn) mapConditionalError(err error, ref store.CollectionRef, id string) error {
	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return mapError(err, ref)
	}
	if condErr.Item == nil || IsExpired(condErr.Item, c.opts.now()) {
		return missingDocument(ref, id, err)
	}
	return preconditionFailed(err)
}

// mapWriteError maps a transaction whose first item is the document write and
// whose remaining items are unique-key rows.
func (c *Conn) mapWriteError(err error, ref store.CollectionRef, onRace func(error) error) error {
	switch idx := cancelledIndex(err); {
	case idx == 0:
		return onRace(err)
	case idx > 0:
		return conflict(msgUniqueViolate, err)
	}
	return mapError(err, ref)
}

func preconditionFailedErr(err error) error {
	return preconditionFailed(err)
}

// raceHandler maps a failed etag check on the document row. Conditional writes
// report stale data; unconditional ones re-read and try again.
func raceHandler(opts store.ItemOptions) func(error) error {
	if opts.IfMatch != "" {
		return preconditionFailedErr
	}
	return func(err error) error {
		return fmt.Errorf("%w: %w", errRaced, err)
	}
}

// retryRaced runs write until it stops losing the document row to concurrent
// writers. Exhausted attempts surface as throttling so the retry policy backs off.
func retryRaced(ctx context.Context, write func() (store.ItemResponse, error)) (store.ItemResponse, error) {
	var err error
	for range maxRaceAttempts {
		var resp store.ItemResponse
		if resp, err = write(); !errors.Is(err, errRaced) {
			return resp, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return store.ItemResponse{}, ctxErr
		}
	}
	return store.ItemResponse{}, throttled(err)
}
