package session

import (
	"context"
	"net/http"
)

// Exchange is the header bag of one inbound request and its response.
type Exchange interface {
	RequestHeader(name string) []string
	ResponseHeader(name string) []string
	SetResponseHeader(name, value string)
}

// WithExchange attaches an exchange to ctx.
func WithExchange(ctx context.Context, ex Exchange) context.Context {
	return context.WithValue(ctx, exchangeKey, ex)
}

// ExchangeFrom returns the exchange attached to ctx.
func ExchangeFrom(ctx context.Context) (Exchange, bool) {
	ex, ok := ctx.Value(exchangeKey).(Exchange)
	return ex, ok
}

// Relay forwards tokens through the exchange headers. A token already set on the
// response wins over the one the caller sent.
type Relay struct{}

// SessionToken implements Provider.
func (Relay) SessionToken(ctx context.Context) string {
	ex, ok := ExchangeFrom(ctx)
	if !ok {
		return ""
	}
	values := ex.ResponseHeader(HeaderName)
	if len(values) != 1 {
		values = ex.RequestHeader(HeaderName)
	}
	if len(values) != 1 {
		return ""
	}
	return values[0]
}

// SetSessionToken implements Provider.
func (Relay) SetSessionToken(ctx context.Context, token string) {
	if ex, ok := ExchangeFrom(ctx); ok {
		ex.SetResponseHeader(HeaderName, token)
	}
}

type httpExchange struct {
	r *http.Request
	w http.ResponseWriter
}

func (e httpExchange) RequestHeader(name string) []string {
	return e.r.Header.Values(name)
}

func (e httpExchange) ResponseHeader(name string) []string {
	return e.w.Header().Values(name)
}

func (e httpExchange) SetResponseHeader(name, value string) {
	e.w.Header().Set(name, value)
}

// RelayMiddleware attaches the request and response headers for Relay. Tokens set
// after the handler writes the response status are not sent.
func RelayMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithExchange(r.Context(), httpExchange{r: r, w: w})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Middleware attaches a fresh Slot to every request for Terminal.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context())))
	})
}
