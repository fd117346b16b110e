package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docstore/store"
)

func TestEnsureDatabase_CreatesUniqueTable(t *testing.T) {
	api := &fakeAPI{}
	var got *dynamodb.CreateTableInput
	api.createTable = func(in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
		got = in
		return &dynamodb.CreateTableOutput{}, nil
	}
	conn := newTestConn(api)

	if err := conn.EnsureDatabase(context.Background(), "shop", 400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if aws.ToString(got.TableName) != "shop.__unique" {
		t.Errorf("expected shop.__unique, got %q", aws.ToString(got.TableName))
	}
	if got.BillingMode != types.BillingModeProvisioned || aws.ToInt64(got.ProvisionedThroughput.ReadCapacityUnits) != 400 {
		t.Errorf("expected 400 provisioned capacity units, got %+v", got.ProvisionedThroughput)
	}
}

func TestEnsureDatabase_NoUniqueKeys(t *testing.T) {
	api := &fakeAPI{}
	conn := newTestConn(api, func(c *store.Config) {
		c.Databases = map[string][]store.CollectionSettings{"audit": {{Name: "events"}}}
	})

	if err := conn.EnsureDatabase(context.Background(), "audit", 400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := api.Calls(); len(calls) != 0 {
		t.Errorf("expected no API calls, got %v", calls)
	}
}

func TestEnsureCollection_CreatesTable(t *testing.T) {
	api := &fakeAPI{}
	var got *dynamodb.CreateTableInput
	api.createTable = func(in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
		got = in
		return &dynamodb.CreateTableOutput{}, nil
	}
	conn := newTestConn(api)
	settings := store.CollectionSettings{Name: "customers", PartitionKeyPath: "/id", UniqueKeyPaths: []string{"/email"}}

	if err := conn.EnsureCollection(context.Background(), "shop", settings, 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if aws.ToString(got.TableName) != "shop.customers" {
		t.Errorf("expected shop.customers, got %q", aws.ToString(got.TableName))
	}
	if len(got.KeySchema) != 2 || aws.ToString(got.KeySchema[0].AttributeName) != AttrPartitionKey ||
		aws.ToString(got.KeySchema[1].AttributeName) != AttrID {
		t.Errorf("expected key schema (_pk, id), got %+v", got.KeySchema)
	}
	if got.BillingMode != types.BillingModePayPerRequest {
		t.Errorf("expected on-demand billing without throughput, got %q", got.BillingMode)
	}
	if got.StreamSpecification == nil || got.StreamSpecification.StreamViewType != types.StreamViewTypeNewAndOldImages {
		t.Error("expected a stream for unique-key cleanup")
	}

	calls := api.Calls()
	if len(calls) != 2 || calls[1] != "DescribeTable" {
		t.Errorf("expected CreateTable then DescribeTable, got %v", calls)
	}
}

func TestEnsureCollection_ExistingTable(t *testing.T) {
	api := &fakeAPI{}
	api.createTable = func(*dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists")}
	}
	conn := newTestConn(api)

	err := conn.EnsureCollection(context.Background(), "shop", store.CollectionSettings{Name: "orders"}, 400, nil)
	if err != nil {
		t.Errorf("expected an existing table to be accepted, got %v", err)
	}
}

func TestEnsureCollection_CreateFails(t *testing.T) {
	api := &fakeAPI{}
	api.createTable = func(*dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
		return nil, &types.LimitExceededException{Message: aws.String("too many tables")}
	}
	conn := newTestConn(api)

	err := conn.EnsureCollection(context.Background(), "shop", store.CollectionSettings{Name: "orders"}, 400, nil)

	var limit *types.LimitExceededException
	if !errors.As(err, &limit) {
		t.Errorf("expected LimitExceededException, got %v", err)
	}
}

func TestEnsureCollection_TimeToLive(t *testing.T) {
	tests := []struct {
		name       string
		current    *types.TimeToLiveDescription
		wantUpdate bool
	}{
		{"disabled", &types.TimeToLiveDescription{TimeToLiveStatus: types.TimeToLiveStatusDisabled}, true},
		{"not described", nil, true},
		{"already enabled", &types.TimeToLiveDescription{
			AttributeName:    aws.String(AttrTTL),
			TimeToLiveStatus: types.TimeToLiveStatusEnabled,
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			api.describeTTL = func(*dynamodb.DescribeTimeToLiveInput) (*dynamodb.DescribeTimeToLiveOutput, error) {
				return &dynamodb.DescribeTimeToLiveOutput{TimeToLiveDescription: tt.current}, nil
			}
			var got *dynamodb.UpdateTimeToLiveInput
			api.updateTTL = func(in *dynamodb.UpdateTimeToLiveInput) (*dynamodb.UpdateTimeToLiveOutput, error) {
				got = in
				return &dynamodb.UpdateTimeToLiveOutput{}, nil
			}
			conn := newTestConn(api)
			ttl := 3600

			err := conn.EnsureCollection(context.Background(), "shop", store.CollectionSettings{Name: "orders"}, 400, &ttl)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if (got != nil) != tt.wantUpdate {
				t.Fatalf("expected update %v, got %v", tt.wantUpdate, got != nil)
			}
			if got != nil && aws.ToString(got.TimeToLiveSpecification.AttributeName) != AttrTTL {
				t.Errorf("expected attribute %s, got %q", AttrTTL, aws.ToString(got.TimeToLiveSpecification.AttributeName))
			}
		})
	}
}
