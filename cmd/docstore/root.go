package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jacentio/docstore/dynamo"
	"github.com/jacentio/docstore/memstore"
	"github.com/jacentio/docstore/session"
	"github.com/jacentio/docstore/store"
)

const memoryEndpoint = "memory://"

// app holds the flags and the lazily built clients shared by all commands.
type app struct {
	configPath string
	debug      bool
	database   string
	collection string
	memory     bool
	sessionKey string
	redisURL   string

	logger   *slog.Logger
	registry *prometheus.Registry
	server   *memstore.Server
	factory  *store.ClientFactory
	config   store.Config
	tokens   session.TokenStore
	sink     store.Sink
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	return &app{registry: prometheus.NewRegistry()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docstore",
		Short: "Provision and operate document store collections",
		Long: `docstore reads a YAML configuration of databases and collections, provisions
them on DynamoDB (or an in-memory store with --memory) and runs document operations
under the retry policy.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if a.debug {
				level = slog.LevelDebug
			}
			a.logger = slog.New(tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
				Level:      level,
				TimeFormat: time.RFC3339,
			}))
			slog.SetDefault(a.logger)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", envOr("DOCSTORE_CONFIG", "docstore.yaml"), "Path to configuration file")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&a.database, "database", "", "Database of the active collection; alone it selects the database's first collection")
	flags.StringVar(&a.collection, "collection", "", "Active collection (default: first configured)")
	flags.BoolVar(&a.memory, "memory", false, "Use an in-memory store instead of the configured endpoint")
	flags.StringVar(&a.sessionKey, "session-key", os.Getenv("DOCSTORE_SESSION_KEY"), "Continue the session stored under this key")
	flags.StringVar(&a.redisURL, "redis-url", os.Getenv("DOCSTORE_REDIS_URL"), "Redis URL for session tokens (default: in-process)")

	root.AddCommand(
		a.provisionCmd(),
		a.putCmd(),
		a.getCmd(),
		a.deleteCmd(),
		a.queryCmd(),
		a.serveCmd(),
	)
	return root
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// loadConfig reads the configuration once. With --memory the endpoint and key
// are filled in when absent.
func (a *app) loadConfig() (store.Config, error) {
	if a.factory != nil {
		return a.config, nil
	}
	cfg, err := store.LoadConfig(a.configPath)
	if err != nil {
		return store.Config{}, err
	}
	if a.memory {
		cfg.Endpoint = memoryEndpoint
		if cfg.Key == "" {
			cfg.Key = "local"
		}
	}
	if err := cfg.Validate(); err != nil {
		return store.Config{}, err
	}

	var dialer store.Dialer
	if cfg.Endpoint == memoryEndpoint {
		if a.server == nil {
			a.server = memstore.New()
		}
		dialer = a.server
	} else {
		dialer = dynamo.NewDialer(dynamo.WithLogger(a.log()))
	}

	a.config = cfg
	a.factory = store.NewClientFactory(dialer, a.storeOptions()...)
	return cfg, nil
}

func (a *app) storeOptions(extra ...store.Option) []store.Option {
	if a.sink == nil {
		a.sink = store.MultiSink(store.NewLogSink(a.log()), store.NewMetricsSink(a.registry))
	}
	return append([]store.Option{store.WithLogger(a.log()), store.WithSink(a.sink)}, extra...)
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

// repository builds a repository on the active collection using provider for
// session tokens.
func (a *app) repository(provider session.Provider) (*store.Repository, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := store.NewRepository(a.factory, cfg, a.storeOptions(store.WithMiddleware(session.Intercept(provider)))...)
	if err != nil {
		return nil, err
	}
	collection := a.collection
	if collection == "" && a.database != "" {
		// --database alone selects that database's first collection.
		colls := cfg.Databases[a.database]
		if len(colls) == 0 {
			return nil, &store.ConfigError{Field: "databaseId", Reason: "'" + a.database + "' is not configured"}
		}
		collection = colls[0].Name
	}
	if collection != "" {
		if err := repo.UseCollection(collection, a.database); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// commandSession returns the provider and context for a one-shot command. With a
// session key the token is kept in the token store between invocations.
func (a *app) commandSession(ctx context.Context) (session.Provider, context.Context, error) {
	if a.sessionKey == "" {
		return session.Terminal{}, session.NewContext(ctx), nil
	}
	if a.tokens == nil {
		tokens, err := a.tokenStore()
		if err != nil {
			return nil, nil, err
		}
		a.tokens = tokens
	}
	return session.NewKeyed(a.tokens, a.log()), session.WithKey(ctx, a.sessionKey), nil
}

func (a *app) tokenStore() (session.TokenStore, error) {
	if a.redisURL == "" {
		return session.NewTokenStore(session.StoreTypeMemory)
	}
	opts, err := redis.ParseURL(a.redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return session.NewTokenStore(session.StoreTypeRedis, session.WithRedisClient(redis.NewClient(opts)))
}

func (a *app) close() error {
	var errs []error
	if a.factory != nil {
		errs = append(errs, a.factory.Close())
		a.factory = nil
	}
	if a.tokens != nil {
		errs = append(errs, a.tokens.Close())
		a.tokens = nil
	}
	return errors.Join(errs...)
}
