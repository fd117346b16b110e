package dynamo

import (
	"log/slog"
	"time"

	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/jacentio/docstore/store"
)

// DefaultTableWait bounds how long provisioning waits for a new table to become active.
const DefaultTableWait = 2 * time.Minute

// Option configures a Dialer or Conn.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	now           func() time.Time
	tableWait     time.Duration
	clientOptions []func(*dynamodb.Options)
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, tableWait: DefaultTableWait}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNow sets the time source for time-to-live handling.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithTableWait sets how long provisioning waits for a table to become active.
func WithTableWait(d time.Duration) Option {
	return func(o *options) {
		o.tableWait = d
	}
}

// WithClientOptions adds DynamoDB client options used by the Dialer.
func WithClientOptions(fns ...func(*dynamodb.Options)) Option {
	return func(o *options) {
		o.clientOptions = append(o.clientOptions, fns...)
	}
}

// Conn is a store.Connection over a DynamoDB API.
type Conn struct {
	api    API
	config store.Config
	opts   options
}

var _ store.Connection = (*Conn)(nil)

// NewConn creates a connection using api. cfg supplies the collection settings
// (partition key path, unique keys, time-to-live).
func NewConn(api API, cfg store.Config, opts ...Option) *Conn {
	return &Conn{api: api, config: cfg, opts: newOptions(opts)}
}

// Close implements store.Connection. The DynamoDB client holds no resources.
func (c *Conn) Close() error {
	return nil
}

func (c *Conn) settings(ref store.CollectionRef) store.CollectionSettings {
	if s, ok := c.config.Collection(ref); ok {
		return s
	}
	return store.CollectionSettings{Name: ref.Collection, PartitionKeyPath: store.DefaultPartitionKeyPath}
}

func (c *Conn) ttl() time.Duration {
	if c.config.DefaultTimeToLive == nil || *c.config.DefaultTimeToLive <= 0 {
		return 0
	}
	return time.Duration(*c.config.DefaultTimeToLive) * time.Second
}

// withSessionToken sends the session token as a request header.
func withSessionToken(token string) []func(*dynamodb.Options) {
	if token == "" {
		return nil
	}
	return []func(*dynamodb.Options){
		func(o *dynamodb.Options) {
			o.APIOptions = append(o.APIOptions, smithyhttp.AddHeaderValue(store.SessionTokenHeader, token))
		},
	}
}

// sessionTokenFrom reads the session token header of the raw response, if any.
func sessionTokenFrom(md middleware.Metadata) string {
	resp, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response)
	if !ok || resp == nil || resp.Response == nil {
		return ""
	}
	return resp.Header.Get(store.SessionTokenHeader)
}
