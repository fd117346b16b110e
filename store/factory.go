package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Factory lifecycle messages published as FactoryEvent.
const (
	MsgInitialising   = "Initialising client"
	MsgConfigVerified = "Configuration verified"
	MsgInitialised    = "Client initialisation completed"
	MsgInvalidating   = "Invalidating client"
)

// ClientFactory lazily opens and provisions a single Connection and caches it
// until Invalidate is called. Safe for concurrent use.
type ClientFactory struct {
	dialer Dialer
	sink   Sink
	logger *slog.Logger

	mu   sync.Mutex
	conn atomic.Pointer[connHolder]
}

type connHolder struct {
	conn Connection
}

// NewClientFactory creates a ClientFactory that opens connections with dialer.
func NewClientFactory(dialer Dialer, opts ...Option) *ClientFactory {
	o := newOptions(opts)
	return &ClientFactory{
		dialer: dialer,
		sink:   o.sink,
		logger: o.logger,
	}
}

// GetOrCreate returns the cached connection, or validates cfg, dials and
// provisions every configured database and collection before caching a new one.
// cfg is only consulted when no connection is cached.
func (f *ClientFactory) GetOrCreate(ctx context.Context, cfg Config) (Connection, error) {
	if h := f.conn.Load(); h != nil {
		return h.conn, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if h := f.conn.Load(); h != nil {
		return h.conn, nil
	}

	f.publish(ctx, MsgInitialising)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	f.publish(ctx, MsgConfigVerified)

	conn, err := f.dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial document store: %w", err)
	}

	if err := provision(ctx, conn, cfg); err != nil {
		if cerr := conn.Close(); cerr != nil {
			f.logger.WarnContext(ctx, "failed to close connection after provisioning error", "error", cerr)
		}
		return nil, err
	}

	f.conn.Store(&connHolder{conn: conn})
	f.publish(ctx, MsgInitialised)
	return conn, nil
}

// Invalidate closes and drops the cached connection. The next GetOrCreate
// reconnects and re-provisions. Calls in flight on the old connection may still
// complete. A no-op when nothing is cached.
func (f *ClientFactory) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := f.conn.Swap(nil)
	if h == nil {
		return
	}
	f.publish(context.Background(), MsgInvalidating)
	if err := h.conn.Close(); err != nil {
		f.logger.Warn("failed to close invalidated connection", "error", err)
	}
}

// Close releases the cached connection, if any.
func (f *ClientFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := f.conn.Swap(nil)
	if h == nil {
		return nil
	}
	return h.conn.Close()
}

func (f *ClientFactory) publish(ctx context.Context, msg string) {
	f.sink.Publish(ctx, FactoryEvent{Message: msg})
}

// Provision creates every database and collection of cfg that doesn't exist.
// Databases are provisioned in order and their collections concurrently.
func Provision(ctx context.Context, p Provisioner, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return provision(ctx, p, cfg.withDefaults())
}

func provision(ctx context.Context, p Provisioner, cfg Config) error {
	for _, db := range cfg.DatabaseIDs() {
		if err := p.EnsureDatabase(ctx, db, cfg.Throughput); err != nil {
			return fmt.Errorf("provision database %s: %w", db, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, settings := range cfg.Databases[db] {
			g.Go(func() error {
				if err := p.EnsureCollection(gctx, db, settings, cfg.Throughput, cfg.DefaultTimeToLive); err != nil {
					return fmt.Errorf("provision collection %s/%s: %w", db, settings.Name, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
