package session

import (
	"context"
	"log/slog"
)

// WithKey attaches the key Keyed stores the token under.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyKey, key)
}

// KeyFrom returns the key attached to ctx.
func KeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(keyKey).(string)
	return key, ok && key != ""
}

// Keyed keeps tokens in a TokenStore under the context's key. Without a key there
// is no token and writes are dropped. Store errors are logged and treated as a
// missing token.
type Keyed struct {
	store  TokenStore
	logger *slog.Logger
}

// NewKeyed creates a keyed provider. A nil logger uses slog.Default().
func NewKeyed(store TokenStore, logger *slog.Logger) *Keyed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyed{store: store, logger: logger}
}

// SessionToken implements Provider.
func (k *Keyed) SessionToken(ctx context.Context) string {
	key, ok := KeyFrom(ctx)
	if !ok {
		return ""
	}
	token, err := k.store.Get(ctx, key)
	if err != nil {
		k.logger.WarnContext(ctx, "session token lookup failed", "key", key, "error", err)
		return ""
	}
	return token
}

// SetSessionToken implements Provider.
func (k *Keyed) SetSessionToken(ctx context.Context, token string) {
	key, ok := KeyFrom(ctx)
	if !ok {
		return
	}
	if err := k.store.Set(ctx, key, token); err != nil {
		k.logger.WarnContext(ctx, "session token store failed", "key", key, "error", err)
	}
}
