package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/docstore/store"
)

// Dialer opens DynamoDB connections. It implements store.Dialer.
//
// Config.Key holds static credentials as "<access key id>:<secret access key>",
// optionally followed by ":<session token>". Config.Endpoint overrides the service
// endpoint (e.g. DynamoDB Local); SDK retries are disabled because the repository
// retry policy owns them.
type Dialer struct {
	opts []Option
}

// NewDialer creates a Dialer. Options are passed on to every Conn.
func NewDialer(opts ...Option) *Dialer {
	return &Dialer{opts: opts}
}

// Dial implements store.Dialer.
func (d *Dialer) Dial(ctx context.Context, cfg store.Config) (store.Connection, error) {
	accessKey, secret, session, err := parseKey(cfg.Key)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secret, session)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	o := newOptions(d.opts)
	clientOpts := append([]func(*dynamodb.Options){
		func(opt *dynamodb.Options) {
			if cfg.Endpoint != "" {
				opt.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			opt.Retryer = aws.NopRetryer{}
		},
	}, o.clientOptions...)

	client := dynamodb.NewFromConfig(awsCfg, clientOpts...)
	o.logger.DebugContext(ctx, "dynamodb client created", "endpoint", cfg.Endpoint, "region", cfg.Region)
	return NewConn(client, cfg, d.opts...), nil
}

func parseKey(key string) (accessKey, secret, session string, err error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", "", &store.ConfigError{
			Field:  "key",
			Reason: "must be of the form <access key id>:<secret access key>[:<session token>]",
		}
	}
	if len(parts) == 3 {
		session = parts[2]
	}
	return parts[0], parts[1], session, nil
}
