package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docstore/store"
)

// EnsureDatabase implements store.Provisioner. DynamoDB has no databases; the
// database's unique-key table is created when any of its collections declares
// unique keys.
func (c *Conn) EnsureDatabase(ctx context.Context, database string, throughput int) error {
	needsUnique := false
	for _, s := range c.config.Databases[database] {
		if len(s.UniqueKeys()) > 0 {
			needsUnique = true
			break
		}
	}
	if !needsUnique {
		return nil
	}

	table := UniqueTableName(database)
	in := &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrUniquePK), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(AttrUniquePK), AttributeType: types.ScalarAttributeTypeS},
		},
	}
	setCapacity(in, throughput)
	return c.createTable(ctx, in)
}

// EnsureCollection implements store.Provisioner. The table is keyed by partition
// key value and id. A positive defaultTTL enables expiry on the _ttl attribute.
func (c *Conn) EnsureCollection(ctx context.Context, database string, settings store.CollectionSettings, throughput int, defaultTTL *int) error {
	ref := store.CollectionRef{Database: database, Collection: settings.Name}
	table := TableName(ref)

	in := &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(AttrPartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(AttrID), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(AttrPartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrID), AttributeType: types.ScalarAttributeTypeS},
		},
	}
	setCapacity(in, throughput)
	if len(settings.UniqueKeys()) > 0 {
		// Removed items release their unique-key rows through the stream handler.
		in.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		}
	}
	if err := c.createTable(ctx, in); err != nil {
		return err
	}

	if defaultTTL == nil || *defaultTTL <= 0 {
		return nil
	}
	return c.enableTTL(ctx, table)
}

func setCapacity(in *dynamodb.CreateTableInput, throughput int) {
	if throughput <= 0 {
		in.BillingMode = types.BillingModePayPerRequest
		return
	}
	in.BillingMode = types.BillingModeProvisioned
	in.ProvisionedThroughput = &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(int64(throughput)),
		WriteCapacityUnits: aws.Int64(int64(throughput)),
	}
}

// createTable creates a table unless it exists and waits for it to become active.
func (c *Conn) createTable(ctx context.Context, in *dynamodb.CreateTableInput) error {
	table := aws.ToString(in.TableName)
	ref := tableRef(table)

	_, err := c.api.CreateTable(ctx, in)
	var inUse *types.ResourceInUseException
	switch {
	case err == nil:
		c.opts.logger.InfoContext(ctx, "table created", "table", table)
	case errors.As(err, &inUse):
		c.opts.logger.DebugContext(ctx, "table exists", "table", table)
	default:
		return fmt.Errorf("create table %s: %w", table, mapError(err, ref))
	}

	waiter := dynamodb.NewTableExistsWaiter(c.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, c.opts.tableWait); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}
	return nil
}

func (c *Conn) enableTTL(ctx context.Context, table string) error {
	ref := tableRef(table)

	desc, err := c.api.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{TableName: aws.String(table)})
	if err != nil {
		return fmt.Errorf("describe time to live %s: %w", table, mapError(err, ref))
	}
	if d := desc.TimeToLiveDescription; d != nil && aws.ToString(d.AttributeName) == AttrTTL {
		switch d.TimeToLiveStatus {
		case types.TimeToLiveStatusEnabled, types.TimeToLiveStatusEnabling:
			return nil
		}
	}

	_, err = c.api.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(AttrTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable time to live %s: %w", table, mapError(err, ref))
	}
	c.opts.logger.InfoContext(ctx, "time to live enabled", "table", table, "attribute", AttrTTL)
	return nil
}

func tableRef(table string) store.CollectionRef {
	ref, ok := ParseTableName(table)
	if !ok {
		return store.CollectionRef{Collection: table}
	}
	return ref
}
