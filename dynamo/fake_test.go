package dynamo

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docstore/store"
)

// fakeAPI records requests and answers them with the configured functions.
// Unset functions return empty outputs.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	getItem       func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItem       func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	deleteItem    func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	transact      func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
	execute       func(*dynamodb.ExecuteStatementInput) (*dynamodb.ExecuteStatementOutput, error)
	createTable   func(*dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error)
	describeTTL   func(*dynamodb.DescribeTimeToLiveInput) (*dynamodb.DescribeTimeToLiveOutput, error)
	updateTTL     func(*dynamodb.UpdateTimeToLiveInput) (*dynamodb.UpdateTimeToLiveOutput, error)
	optionsByCall []int
}

func (f *fakeAPI) record(name string, optFns []func(*dynamodb.Options)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.optionsByCall = append(f.optionsByCall, len(optFns))
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.record("GetItem", optFns)
	if f.getItem != nil {
		return f.getItem(in)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.record("PutItem", optFns)
	if f.putItem != nil {
		return f.putItem(in)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.record("DeleteItem", optFns)
	if f.deleteItem != nil {
		return f.deleteItem(in)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.record("TransactWriteItems", optFns)
	if f.transact != nil {
		return f.transact(in)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) ExecuteStatement(_ context.Context, in *dynamodb.ExecuteStatementInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ExecuteStatementOutput, error) {
	f.record("ExecuteStatement", optFns)
	if f.execute != nil {
		return f.execute(in)
	}
	return &dynamodb.ExecuteStatementOutput{}, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.record("CreateTable", optFns)
	if f.createTable != nil {
		return f.createTable(in)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.record("DescribeTable", nil)
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableName: in.TableName, TableStatus: types.TableStatusActive},
	}, nil
}

func (f *fakeAPI) UpdateTimeToLive(_ context.Context, in *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.record("UpdateTimeToLive", optFns)
	if f.updateTTL != nil {
		return f.updateTTL(in)
	}
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

func (f *fakeAPI) DescribeTimeToLive(_ context.Context, in *dynamodb.DescribeTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
	f.record("DescribeTimeToLive", optFns)
	if f.describeTTL != nil {
		return f.describeTTL(in)
	}
	return &dynamodb.DescribeTimeToLiveOutput{}, nil
}

var (
	testNow    = time.Unix(1_700_000_000, 0)
	ordersRef  = store.CollectionRef{Database: "shop", Collection: "orders"}
	peopleRef  = store.CollectionRef{Database: "shop", Collection: "customers"}
	missingRef = store.CollectionRef{Database: "shop", Collection: "unknown"}
)

func testConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Endpoint = "http://localhost:8000"
	cfg.Key = "AKID:SECRET"
	cfg.Databases = map[string][]store.CollectionSettings{
		"shop": {
			{Name: "orders", PartitionKeyPath: "/customerId"},
			{Name: "customers", PartitionKeyPath: "/id", UniqueKeyPaths: []string{"/email"}},
		},
	}
	return cfg
}

func newTestConn(api *fakeAPI, mutate ...func(*store.Config)) *Conn {
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return NewConn(api, cfg, WithNow(func() time.Time { return testNow }), WithTableWait(time.Second))
}

func s(v string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: v}
}

func reasons(codes ...string) *types.TransactionCanceledException {
	out := &types.TransactionCanceledException{}
	for _, code := range codes {
		c := code
		out.CancellationReasons = append(out.CancellationReasons, types.CancellationReason{Code: &c})
	}
	return out
}
