// Package session propagates document store session tokens between calls that
// share one logical request, giving read-your-own-write consistency without a
// stronger account-wide consistency level.
//
// A Provider reads and writes the token for a context. Three roles exist:
//
//   - Terminal keeps the token in a per-request Slot attached by NewContext or Middleware.
//   - Relay forwards the token through request and response headers, so an upstream
//     caller carries it between requests.
//   - Keyed stores the token under an explicit key (WithKey) in a TokenStore, for
//     callers without an inherent request scope.
//
// Intercept wraps a store.Transport to attach the provider's token to every call and
// capture the token every response returns.
package session

import (
	"context"
	"sync"

	"github.com/jacentio/docstore/store"
)

// HeaderName is the header carrying session tokens between services.
const HeaderName = store.SessionTokenHeader

// Provider reads and writes the session token of a logical request.
type Provider interface {
	// SessionToken returns the current token, or "" when there is none.
	SessionToken(ctx context.Context) string

	// SetSessionToken stores the token for later calls in the same request.
	SetSessionToken(ctx context.Context, token string)
}

// Slot holds one mutable session token. It is safe for concurrent use.
type Slot struct {
	mu    sync.Mutex
	token string
}

// Get returns the token.
func (s *Slot) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Set replaces the token.
func (s *Slot) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

type contextKey string

const (
	slotKey     contextKey = "session.slot"
	exchangeKey contextKey = "session.exchange"
	keyKey      contextKey = "session.key"
)

// NewContext returns a context carrying a new empty slot.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotKey, &Slot{})
}

// SlotFrom returns the slot attached to ctx.
func SlotFrom(ctx context.Context) (*Slot, bool) {
	slot, ok := ctx.Value(slotKey).(*Slot)
	return slot, ok
}

// Terminal keeps tokens in the context's Slot. Without a slot there is no token
// and writes are dropped.
type Terminal struct{}

// SessionToken implements Provider.
func (Terminal) SessionToken(ctx context.Context) string {
	if slot, ok := SlotFrom(ctx); ok {
		return slot.Get()
	}
	return ""
}

// SetSessionToken implements Provider.
func (Terminal) SetSessionToken(ctx context.Context, token string) {
	if slot, ok := SlotFrom(ctx); ok {
		slot.Set(token)
	}
}
